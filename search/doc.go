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


// Package search runs ranked queries against a consistent snapshot of the
// index.
//
// A query goes through these stages:
//   - The query text is expanded into a derivation graph of exact, typo,
//     prefix, synonym, split and concatenated alternatives.
//   - The filter expression and geo radius restrict the documents.
//   - The candidates are the restricted documents matching the graph,
//     optionally joined by the nearest neighbours of the query vector.
//   - The ranking rule pipeline orders the candidates and cuts the page.
//
// Each hit carries the bucket it landed in for every ranking rule. A query
// whose deadline expires during ranking returns a page marked Partial.
package search
