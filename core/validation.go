package core

import (
	"fmt"
	"math"
)

// ValidateKey checks that an external document key is 1 to MaxKeyLength
// bytes of ASCII letters, digits, hyphens and underscores.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %w: length %d", ErrValidation, ErrInvalidDocumentKey, len(key))
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: %w: %q contains %q", ErrValidation, ErrInvalidDocumentKey, key, c)
		}
	}
	return nil
}

// ValidateDocument validates a Document before it enters a batch.
//
// Validation rules:
//   - Key must be a valid external key
//   - the number of fields must not exceed maxFields (0 disables the check)
//   - Vector, when present, must not contain NaN or infinities
//
// NOT validated (handled during extraction):
//   - geo points outside the legal ranges, which only exclude the document
//     from geo predicates
func ValidateDocument(doc *Document, maxFields int) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrValidation)
	}
	if err := ValidateKey(doc.Key); err != nil {
		return err
	}
	if maxFields > 0 && len(doc.Fields) > maxFields {
		return fmt.Errorf("%w: %w: %d > %d", ErrValidation, ErrTooManyFields, len(doc.Fields), maxFields)
	}
	for i, f := range doc.Vector {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: %w: element %d", ErrValidation, ErrInvalidVector, i)
		}
	}
	return nil
}
