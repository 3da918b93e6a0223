// Package indexing turns document batches into committed index versions.
//
// A Pipeline runs each batch through a checked state machine:
//   - Received: documents are validated, deduplicated and assigned ids
//   - Extracting: workers from an ants pool derive postings into bounded
//     sorters that spill sorted runs to a temporary directory
//   - Merging: runs are k-way merged per database, in parallel
//   - Committing: one storage transaction removes the postings of replaced
//     documents, adds the merged postings, rebuilds the term dictionary and
//     bumps the version
//
// Any failure before the commit leaves the store at its last committed
// state. A consistency failure during the commit poisons the pipeline until
// Reindex rebuilds the derived databases from the stored documents.
package indexing
