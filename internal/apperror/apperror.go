// Package apperror defines the domain error classes shared by every layer.
//
// Services return these errors; the HTTP layer maps each class to a status
// code and a stable machine-readable "error" string. Callers test the class
// with errors.Is(err, apperror.ErrXxx) and read the human message with
// errors.As(err, &appErr).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("Validation Error")
	ErrConflict         = errors.New("conflict")
	ErrUnauthenticated  = errors.New("authentication failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrOAuth            = errors.New("oauth error")
	ErrInvalidToken     = errors.New("invalid token")
	ErrOAuthOnlyAccount = errors.New("oauth-only account")
	ErrDelivery         = errors.New("delivery failed")
)

type AppError struct {
	Err     error  // class sentinel (ErrNotFound, ErrConflict, ...)
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error, never shown to clients
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the class sentinel and the cause so errors.Is can
// match either one.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
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

// Conflict reports a uniqueness violation on field. The message is the one
// shown to clients, e.g. "Email already registered".
func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Unauthenticated is returned for rejected credentials. The message must
// not reveal which check failed.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Unauthorized is returned for a missing, invalid or expired bearer token.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// OAuthFailed wraps a provider or state failure during an OAuth flow.
func OAuthFailed(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrOAuth,
		Message: message,
		Cause:   cause,
	}
}

// InvalidToken is the single user-facing failure for every reset-token check.
func InvalidToken() *AppError {
	return &AppError{
		Err:     ErrInvalidToken,
		Message: "Invalid or expired token",
	}
}

func OAuthOnlyAccount(message string) *AppError {
	return &AppError{
		Err:     ErrOAuthOnlyAccount,
		Message: message,
	}
}

func DeliveryFailed(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrDelivery,
		Message: message,
		Cause:   cause,
	}
}
