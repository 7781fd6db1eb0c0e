package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every failure surfaced by the loader, chunker, stores and
// pipelines wraps exactly one of these so callers can match with errors.Is.
var (
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrRead                  = errors.New("read error")
	ErrInvalidChunkConfig    = errors.New("invalid chunk config")
	ErrStoreUnavailable      = errors.New("vector store unavailable")
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrEmbeddingFailure      = errors.New("embedding failure")
	ErrUnsupportedSourceType = errors.New("unsupported source type")

	ErrInvalidCollectionName  = errors.New("invalid collection name")
	ErrEmptyQuestion          = errors.New("empty question")
	ErrEmbeddingModelMismatch = errors.New("embedding model mismatch")
	ErrResetDisabled          = errors.New("reset is disabled")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
