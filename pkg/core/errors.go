package core

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidName     = errors.New("invalid document name")
	ErrUnknownStrategy = errors.New("unknown merge strategy")
)

// ValidationError is returned before persistence when a document or record
// fails required-field or type checks.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
