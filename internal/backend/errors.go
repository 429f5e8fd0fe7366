package backend

import (
	"errors"
	"fmt"
)

// Error codes, following Postgres SQLSTATE and PostgREST conventions.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"
	CodeNoRows              = "PGRST116"
	CodeUndefinedFunction   = "42883"
	CodeUndefinedTable      = "42P01"
)

// Error is a failure reported by the backend.
type Error struct {
	Code    string
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Details)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// CodeOf returns the backend error code carried by err, or "".
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	return CodeOf(err) == CodeUniqueViolation
}

// IsNoRows reports whether err means the requested row does not exist.
func IsNoRows(err error) bool {
	return CodeOf(err) == CodeNoRows
}

// ErrNoRows is returned by Single when nothing matched.
var ErrNoRows = &Error{Code: CodeNoRows, Message: "no rows returned"}
