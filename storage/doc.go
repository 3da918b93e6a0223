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


// Package storage provides the storage abstraction layer for sift.
//
// The index is a set of logical databases (see Database) living in one
// transactional key-value Engine. The package owns the key layouts and value
// encodings; engines only move bytes.
//
// # Architecture
//
//   - Engine: transactional store with snapshot reads and a single writer
//   - Reader: typed reads over one transaction (postings, positions, facets)
//   - Snapshot: a Reader pinned to one committed version
//   - Writer: typed mutations inside the write transaction
//   - DocumentStore: the document collaborator used by indexing and search
//
// # Usage
//
// Open an in-memory store for tests:
//
//	store, err := badger.NewMemoryStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	snap, err := store.Snapshot(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer snap.Close()
//	docs, err := snap.Postings("shoe")
//
// # Thread Safety
//
// Engines must be safe for concurrent use. A Snapshot may be read from
// several goroutines; a Writer belongs to the goroutine running Update.
package storage
