// Package apperror defines the error vocabulary shared by the service and
// handler layers.
//
// Services return these errors (usually wrapped with fmt.Errorf and %w);
// handlers unwrap them with errors.Is / errors.As and pick an HTTP status.
// Neither layer needs to know how the other one works.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOperation = errors.New("invalid operation")
)

type AppError struct {
	Err     error  // sentinel, one of the Err* values above
	Message string // human-readable message, safe to show to clients
	Field   string // optional: form field that caused the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports that a resource identified by key does not exist.
func NotFound(resource, key string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s %q does not exist", resource, key),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, key string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s %q already exists", resource, key),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means the caller is not signed in at all (401), as opposed
// to Forbidden where the caller is known but not allowed.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// InvalidOperation wraps a domain rule violation, such as vouching for a
// profile that is already vouched. cause is kept in the chain so callers can
// still match the specific rule with errors.Is.
func InvalidOperation(cause error) *AppError {
	return &AppError{
		Err:     errors.Join(ErrInvalidOperation, cause),
		Message: cause.Error(),
	}
}
