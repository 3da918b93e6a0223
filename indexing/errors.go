package indexing

import "errors"

var (
	// ErrStoreRequired is returned when a document store is not provided.
	ErrStoreRequired = errors.New("document store required")

	// ErrCatalogRequired is returned when a catalog is not provided.
	ErrCatalogRequired = errors.New("catalog required")

	// ErrPoisoned is returned by writes after a consistency failure.
	ErrPoisoned = errors.New("pipeline poisoned, reindex required")

	// ErrDocumentNotFound is reported for deletions of unknown keys.
	ErrDocumentNotFound = errors.New("document not found")
)
