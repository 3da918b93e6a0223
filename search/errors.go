// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package search

import "errors"

var (
	// ErrStoreRequired is returned when a document store is not provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrCatalogRequired is returned when a view catalog is not provided.
	ErrCatalogRequired = errors.New("view catalog required")

	// ErrRequestRequired is returned when Search is called without a request.
	ErrRequestRequired = errors.New("search request required")

	// ErrNotSortable indicates a sort clause on a field not declared sortable.
	ErrNotSortable = errors.New("field is not sortable")

	// ErrInvalidPagination indicates a negative limit or offset.
	ErrInvalidPagination = errors.New("invalid pagination")
)
