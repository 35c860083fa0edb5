// Package errors defines the service's error taxonomy: sentinel errors for
// each failure class and an AppError wrapper carrying an HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrIndexNotFound means the target search index does not exist.
	ErrIndexNotFound = errors.New("search index not found")
	// ErrServiceUnavailable means a required capability (embedder or
	// document store) is not initialized. Distinct from a failed call.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrInvalidInput covers malformed request bodies and parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreFailure covers document store calls that failed.
	ErrStoreFailure = errors.New("document store failure")
	// ErrEmbeddingFailure covers embedding calls that failed.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrInternal is the fallback for everything else.
	ErrInternal = errors.New("internal error")
)

// AppError pairs a sentinel with a human-readable message and the HTTP
// status to surface to callers.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel error with a status code and message.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with Printf-style message formatting.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode resolves err to an HTTP status: an explicit AppError wins,
// otherwise the sentinel decides.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
