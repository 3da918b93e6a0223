package geo

import "errors"

var (
	// ErrInvalidPoint indicates coordinates outside the legal ranges.
	ErrInvalidPoint = errors.New("invalid geo point")

	// ErrInvalidRadius indicates a negative or undefined radius.
	ErrInvalidRadius = errors.New("invalid radius")
)
