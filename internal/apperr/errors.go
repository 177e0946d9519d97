// Package apperr classifies service failures into a closed set of kinds that
// the HTTP layer and the CLI can render uniformly.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindInvalidState       Kind = "invalid_state"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindValidationFailed   Kind = "validation_failed"
	KindConflictGenerating Kind = "conflict_generating"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// Error is a classified failure. Message is safe to show to callers; Err is
// the underlying cause and is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and message, so sentinel values declared
// with New can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and a caller-safe message to err.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error         { return New(KindNotFound, message) }
func InvalidState(message string) *Error     { return New(KindInvalidState, message) }
func CapacityExceeded(message string) *Error { return New(KindCapacityExceeded, message) }
func Validation(message string) *Error       { return New(KindValidationFailed, message) }
func Forbidden(message string) *Error        { return New(KindForbidden, message) }

// Validationf formats a validation message.
func Validationf(format string, args ...any) *Error {
	return New(KindValidationFailed, fmt.Sprintf(format, args...))
}

// KindOf reports the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the kind and the message that may be shown to a caller.
// Unclassified errors collapse to a generic message.
func Public(err error) (Kind, string) {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindInternal {
		return ae.Kind, ae.Message
	}
	return KindInternal, "internal error"
}

// HTTPStatus maps a kind to a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindCapacityExceeded, KindConflictGenerating:
		return http.StatusConflict
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
