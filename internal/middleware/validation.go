package middleware

import (
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/commerce-sync/pkg/apperror"
)

// MaxContentLength bounds message, note and description text.
const MaxContentLength = 10000

// ValidateID checks that a path id is a UUID.
func ValidateID(what, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperror.Validation("validate."+what, "invalid %s ID format", what)
	}
	return nil
}

// ValidateContent checks free text for size and encoding. Emptiness is left
// to the gateway, which trims first.
func ValidateContent(what, content string) error {
	if len(content) > MaxContentLength {
		return apperror.Validation("validate."+what, "%s exceeds maximum length", what)
	}
	if !utf8.ValidString(content) {
		return apperror.Validation("validate."+what, "%s must be valid UTF-8", what)
	}
	return nil
}

// ParsePage reads limit and offset query values. Missing or malformed values
// become zero, which the gateway replaces with its defaults.
func ParsePage(limit, offset string) (int, int) {
	l, _ := strconv.Atoi(limit)
	o, _ := strconv.Atoi(offset)
	return max(l, 0), max(o, 0)
}
