package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
// Implementing this interface enables extensible error handling at the gateway.
type HTTPError interface {
	error
	StatusCode() int
}

// Typed errors implementing the HTTPError interface
type (
	// NotFoundError indicates a row was not found for a unique lookup
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates malformed input (bad filter, groupBy contract
	// violation, unknown field or entity)
	ValidationError struct {
		Message string
	}

	// UnauthorizedError indicates authentication failure at the gateway
	UnauthorizedError struct {
		Message string
	}

	// TxTimeoutError indicates a transaction exceeded its MaxWait or Timeout bound
	TxTimeoutError struct {
		Message string
	}

	// InitializationError indicates the store is unreachable or misconfigured
	InitializationError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string       { return e.Message }
func (e *ValidationError) Error() string     { return e.Message }
func (e *UnauthorizedError) Error() string   { return e.Message }
func (e *TxTimeoutError) Error() string      { return e.Message }
func (e *InitializationError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int       { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int     { return http.StatusBadRequest }
func (e *UnauthorizedError) StatusCode() int   { return http.StatusUnauthorized }
func (e *TxTimeoutError) StatusCode() int      { return http.StatusRequestTimeout }
func (e *InitializationError) StatusCode() int { return http.StatusServiceUnavailable }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("unique constraint violation")
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTxTimeout      = errors.New("transaction timeout")
	ErrInitialization = errors.New("store initialization failed")
)

func (e *NotFoundError) Is(target error) bool       { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool     { return target == ErrValidation }
func (e *UnauthorizedError) Is(target error) bool   { return target == ErrUnauthorized }
func (e *TxTimeoutError) Is(target error) bool      { return target == ErrTxTimeout }
func (e *InitializationError) Is(target error) bool { return target == ErrInitialization }

// UniqueConstraintError reports a unique-field collision with details about
// the field that collided
type UniqueConstraintError struct {
	Message string // Human-readable error message
	Entity  string // Entity whose constraint was violated
	Field   string // Unique field that collided
}

// Error implements the error interface
func (e *UniqueConstraintError) Error() string {
	return e.Message
}

// StatusCode implements the HTTPError interface
func (e *UniqueConstraintError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *UniqueConstraintError) Is(target error) bool {
	return target == ErrConflict
}
