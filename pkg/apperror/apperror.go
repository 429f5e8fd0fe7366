// Package apperror defines the error taxonomy shared by the gateway, the
// stores and the HTTP facade.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindValidationFailed Kind = "validation_failed"
	KindForbidden        Kind = "forbidden"
	KindUnknown          Kind = "unknown"
)

// Error is a classified error. Op names the operation that failed
// (e.g. "favorites.Add").
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test against the
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrValidationFailed = &Error{Kind: KindValidationFailed}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrUnknown          = &Error{Kind: KindUnknown}
)

// E builds a classified error.
func E(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. An err that is already an *Error keeps its kind and
// gains the op if it had none.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Op == "" {
			cp := *ae
			cp.Op = op
			return &cp
		}
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation is shorthand for a caller-side validation failure.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidationFailed, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// UserMessage renders err for display to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case KindUnauthenticated:
			return "please sign in again"
		case KindNotFound:
			return "not found"
		case KindConflict:
			if ae.Message != "" {
				return ae.Message
			}
			return "already exists"
		case KindCapacityExceeded:
			return "this event is full"
		case KindValidationFailed, KindForbidden:
			if ae.Message != "" {
				return ae.Message
			}
			return string(ae.Kind)
		}
	}
	return "something went wrong, please try again"
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindCapacityExceeded:
		return http.StatusUnprocessableEntity
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
