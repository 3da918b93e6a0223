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


package core

import "errors"

// Error classes. Every error surfaced by the index wraps exactly one of these
// so callers can decide how to react with errors.Is.
var (
	// ErrValidation marks malformed documents, filters, queries or settings.
	// The index is never modified by an operation that fails validation.
	ErrValidation = errors.New("validation error")

	// ErrResource marks temporary storage or memory exhaustion. The batch
	// that hit it has been rolled back.
	ErrResource = errors.New("resource error")

	// ErrConsistency marks index corruption, such as a document whose
	// postings are missing. Writes are refused until the index is rebuilt.
	ErrConsistency = errors.New("consistency error")

	// ErrCollaborator marks a failure of an external service such as the
	// embedder. Features depending on it degrade instead of failing.
	ErrCollaborator = errors.New("collaborator error")
)

// Domain validation errors
var (
	// ErrMissingPrimaryKey indicates a document without a primary key value.
	ErrMissingPrimaryKey = errors.New("missing primary key")

	// ErrInvalidDocumentKey indicates a primary key that cannot be used as an external key.
	ErrInvalidDocumentKey = errors.New("invalid document key")

	// ErrTooManyFields indicates a document exceeding the field limit.
	ErrTooManyFields = errors.New("too many fields")

	// ErrUnknownField indicates a reference to a field that is not configured for the operation.
	ErrUnknownField = errors.New("unknown field")

	// ErrTypeMismatch indicates a value of the wrong type for the operation.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidSettings indicates settings that failed validation.
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrInvalidVector indicates a malformed document vector.
	ErrInvalidVector = errors.New("invalid vector")
)
