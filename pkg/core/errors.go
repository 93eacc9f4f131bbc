// Package core provides the workspace memory engine: deduplicated insertion, intent-aware
// hybrid search, confidence decay and the correction ledger.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBackendUnavailable indicates that the embedding provider, vector index or
	// keyword index could not serve a request.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrLockTimeout indicates that the workspace lock was not acquired in time.
	ErrLockTimeout = errors.New("workspace lock timeout")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")

	// ErrMalformedRerankResponse is reported in a warning when the rerank model's
	// reply cannot be used. Search falls back to the fused order.
	ErrMalformedRerankResponse = errors.New("malformed rerank response")

	// ErrDegradedKeywordQuery is reported in a warning when the keyword index rejects
	// a query. Search falls back to vector-only ranking.
	ErrDegradedKeywordQuery = errors.New("degraded keyword query")
)

// MemoryError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Add",
//	    Err: ErrEmbeddingFailed,
//	}
//	// Error() returns: "localmem: Add: embedding generation failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "localmem: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("localmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with MemoryError.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Add", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "Add", "Search", "Correct")
//   - err: The underlying error to wrap
//
// Returns a MemoryError, or nil if err is nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// unavailable tags err as a backend failure of the given kind.
func unavailable(kind, err error) error {
	return fmt.Errorf("%w (%w): %w", ErrBackendUnavailable, kind, err)
}
