// Package apierr defines the error taxonomy shared by all Burrow components.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the stable, client-visible categories.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindPolicyViolation    Kind = "POLICY_VIOLATION"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	KindEngineFailure      Kind = "ENGINE_FAILURE"
	KindCancelled          Kind = "CANCELLED"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// Error carries a Kind plus a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is comparisons against another *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a kind and message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Errors that do not carry a
// known kind are reported as KindInternal so raw detail never leaks to
// clients.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message for an error. Unknown errors get
// a generic message.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a Kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPolicyViolation:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindEngineFailure:
		return http.StatusBadGateway
	case KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}
