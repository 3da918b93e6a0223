package query

import "errors"

var (
	// ErrDictionary indicates a term dictionary that cannot be read or built.
	ErrDictionary = errors.New("term dictionary error")

	// ErrSourceRequired indicates a missing postings source.
	ErrSourceRequired = errors.New("postings source is required")
)
