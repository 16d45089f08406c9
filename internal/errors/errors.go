// Package errors defines the coded error taxonomy shared by every layer of
// the approval service. Handlers map codes to HTTP statuses; services branch
// on codes instead of matching error strings.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers.
type Code string

const (
	ErrCodeInvalidInput           Code = "invalid_input"
	ErrCodeUnknownRole            Code = "unknown_role"
	ErrCodeConfiguration          Code = "configuration"
	ErrCodeUnauthorized           Code = "unauthorized"
	ErrCodeNotFound               Code = "not_found"
	ErrCodeInvalidState           Code = "invalid_state"
	ErrCodeAlreadyResolved        Code = "already_resolved"
	ErrCodeConcurrentModification Code = "concurrent_modification"
	ErrCodeStorage                Code = "storage"
	ErrCodeInternal               Code = "internal"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) error {
	return Newf(ErrCodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput reports a malformed request field.
func InvalidInput(field, message string) error {
	return Newf(ErrCodeInvalidInput, "%s: %s", field, message)
}

// Unauthorized reports an action the actor may not perform.
func Unauthorized(message string) error {
	return New(ErrCodeUnauthorized, message)
}

// UnknownRole reports a role outside the configured hierarchy.
func UnknownRole(role string) error {
	return Newf(ErrCodeUnknownRole, "unknown role %q", role)
}

// CodeOf extracts the code from err, walking the wrap chain.
// Uncoded errors classify as internal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeUnknownRole:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyResolved, ErrCodeConcurrentModification, ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
