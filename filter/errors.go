package filter

import (
	"errors"
	"fmt"

	"github.com/poiesic/sift/core"
)

var (
	// ErrTooDeep indicates a filter nested beyond the evaluator's limit.
	ErrTooDeep = errors.New("filter nested too deeply")

	// ErrSourceRequired indicates a missing facet source.
	ErrSourceRequired = errors.New("facet source is required")
)

// SyntaxError reports a malformed filter and the byte offset where parsing
// failed.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filter syntax error at %d: %s", e.Pos, e.Msg)
}

// Unwrap classifies syntax errors as validation errors.
func (e *SyntaxError) Unwrap() error {
	return core.ErrValidation
}
