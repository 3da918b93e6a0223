package indexing

import "github.com/poiesic/sift/core"

// BatchResult summarizes a committed batch.
type BatchResult struct {
	// CommittedCount is the number of documents added, replaced or deleted.
	CommittedCount int

	// Errors lists the documents that were skipped.
	Errors []DocumentError

	// Version is the index version the batch produced.
	Version uint64
}

// DocumentError reports a document left out of a batch.
type DocumentError struct {
	Key        string
	DocumentID core.DocumentID
	Reason     error
}

func (e DocumentError) Error() string {
	if e.Key == "" {
		return e.Reason.Error()
	}
	return e.Key + ": " + e.Reason.Error()
}

func (e DocumentError) Unwrap() error {
	return e.Reason
}
