package ranking

import "errors"

var (
	// ErrInvalidRule indicates an unknown ranking rule name.
	ErrInvalidRule = errors.New("invalid ranking rule")

	// ErrInvalidSort indicates a malformed sort clause.
	ErrInvalidSort = errors.New("invalid sort clause")

	// ErrSourceRequired indicates a missing index source.
	ErrSourceRequired = errors.New("index source is required")
)
