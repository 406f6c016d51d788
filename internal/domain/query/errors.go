package query

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every request rejected before reaching storage.
var ErrValidation = errors.New("invalid query request")

// Validation codes reported per field.
const (
	CodeRequired = "required"
	CodeInvalid  = "invalid"
)

// ValidationError names the offending request field.
type ValidationError struct {
	Field string
	Code  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Code)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func required(field string) error {
	return &ValidationError{Field: field, Code: CodeRequired}
}
