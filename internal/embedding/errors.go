package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned when the text to embed is blank after
	// newline normalization.
	ErrEmptyText = errors.New("embedding: text is empty")

	// ErrDimensionMismatch matches any DimensionMismatchError via errors.Is.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

	// ErrUnknownModel is returned when no dimension is known for a model.
	ErrUnknownModel = errors.New("embedding: unknown model dimension")
)

// Error wraps a failed provider call.
type Error struct {
	Op    string
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding %s (model %s): %v", e.Op, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DimensionMismatchError reports a vector whose width differs from what the
// model declares. It is never retried.
type DimensionMismatchError struct {
	Model string
	Want  int
	Got   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch for model %s: want %d, got %d", e.Model, e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
