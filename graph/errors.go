package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidNode is returned when persisting a node whose identity is
	// missing.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidKey is returned when a node identity cannot be encoded as, or
	// decoded from, a composite key.
	ErrInvalidKey = fmt.Errorf("%w: invalid composite key", ErrInvalidNode)

	// ErrBackendIO matches every BackendError via errors.Is.
	ErrBackendIO = errors.New("backend I/O failure")
)

// BackendError describes a failed call to the store underlying a repository.
type BackendError struct {
	// The primitive that failed (e.g. "hset").
	Op string

	// The key the primitive was applied to.
	Key string

	Err error
}

// Error implements error.
func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackendIO.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendIO
}
