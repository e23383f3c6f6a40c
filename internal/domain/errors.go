package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling at the API boundary.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}

	// LockedError indicates the target resource is held by another job
	LockedError struct {
		Message string
	}
)

// Error implementations
func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }
func (e *LockedError) Error() string     { return e.Message }

// StatusCode implementations (HTTPError interface)
func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *LockedError) StatusCode() int     { return http.StatusConflict }

// Sentinel errors - use with errors.Is()
var (
	// ErrNotFound covers unknown book, chunk and job ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers version-write races and lock contention.
	ErrConflict = errors.New("already exists")
	// ErrValidation covers malformed input, including malformed template markers.
	ErrValidation = errors.New("validation failed")
	// ErrCancelled is returned by job handlers that observed a cooperative
	// cancellation request and stopped at a checkpoint.
	ErrCancelled = errors.New("cancelled")
	// ErrProvider wraps generation-provider failures that survived the
	// provider's own retry policy.
	ErrProvider = errors.New("provider error")
)

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (book, chunk, job)
	ResourceID   string // ID of the existing/conflicting resource
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	return e.Message
}

// StatusCode implements the HTTPError interface
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
