package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input or a violated business rule.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates a missing or invalid bearer credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Error carries a client-facing message for one of the sentinel kinds above.
type Error struct {
	Kind    error
	Message string
	Details []string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind so callers can use errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationDetails builds a validation error listing each offending field.
func ValidationDetails(message string, details []string) error {
	return &Error{Kind: ErrValidation, Message: message, Details: details}
}

// NotFoundf builds a not-found error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// DuplicateKey reports a unique constraint violation for field=value.
func DuplicateKey(field string, value any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf("duplicate value for %s: %v", field, value)}
}

// DetailsOf returns the details attached to err, if any.
func DetailsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
