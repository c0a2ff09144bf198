// Package apperror defines the error taxonomy shared by the service and handler layers.
//
// Every domain error is an *AppError wrapping one of the sentinels below, so callers
// can branch with errors.Is while still getting a human-readable Message.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	// ErrUnavailable means the sandboxed runtime host could not be reached.
	ErrUnavailable = errors.New("runtime unavailable")
	// ErrInstallFailed means dependency installation exited non-zero.
	ErrInstallFailed = errors.New("install failed")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports an operation that does not apply to the resource's current state.
func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
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

// Unavailable wraps a failure to reach the runtime host.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}

// InstallFailed reports a dependency install that exited with a non-zero code.
func InstallFailed(exitCode int) *AppError {
	return &AppError{
		Err:     ErrInstallFailed,
		Message: fmt.Sprintf("dependency install failed with exit code %d", exitCode),
	}
}
