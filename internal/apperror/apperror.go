// Package apperror defines the error taxonomy shared by every service.
//
// Each class carries a distinct propagation policy:
//
//	ErrValidation — caller bug, caught before any network call; never retried
//	ErrAuth       — OTP invalid or expired; caller re-prompts the user
//	ErrConflict   — uniqueness collision (username taken, dedup retry spent);
//	                terminal for the call, reported verbatim
//	ErrNetwork    — transient transport/timeout; the ONLY class a caller may
//	                retry, and the services themselves never self-retry it
//	ErrNotFound   — a row the operation requires is absent
//
// Classify with errors.Is against the sentinels; the services wrap gateway
// failures so the sentinel survives the chain.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrConflict   = errors.New("conflict")
	ErrNetwork    = errors.New("network failure")
	ErrNotFound   = errors.New("not found")
)

type AppError struct {
	Err     error  // sentinel identifying the class
	Message string // human-readable error message
	Field   string // optional: field or reason code causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// AuthFailed reports a failed OTP verification. reason distinguishes a wrong
// code from an expired or never-sent one ("invalid_code" vs "code_expired")
// so the caller can decide between re-prompting and re-sending.
func AuthFailed(reason, message string) *AppError {
	return &AppError{
		Err:     ErrAuth,
		Message: message,
		Field:   reason,
	}
}

// Conflict reports a uniqueness collision. reason is a stable machine code
// such as "username_taken" or "course_exists".
func Conflict(reason, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   reason,
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// Network wraps a transport-level failure (connection refused, timeout,
// 5xx from the backend). cause is kept in the message for logs; callers
// only ever branch on the sentinel.
func Network(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrNetwork,
		Message: fmt.Sprintf("%s: %v", op, cause),
	}
}

// Retryable reports whether the caller may retry the operation that produced
// err. Only network failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
