// Package errs defines the error taxonomy shared by the settlement domain.
//
// Every error here carries a message that is safe to show to a customer. The
// transport layer maps each type to a status code; anything that is not one
// of these types is treated as an internal failure.
package errs

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ValidationError reports malformed input: an empty cart, a badly formatted
// discount code, an unknown status value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation returns a *ValidationError for the given field.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports that a discount code, order, or customer does not exist.
type NotFoundError struct {
	Resource string
	ID       string
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// NotFound returns a *NotFoundError with the default message.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// LimitReachedError reports that a discount code has no remaining uses.
type LimitReachedError struct {
	Resource string
	ID       string
	Message  string
}

func (e *LimitReachedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q usage limit reached", e.Resource, e.ID)
}

// PersistenceError wraps a failed storage operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a *PersistenceError. It returns nil for a nil err.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// UserMessage returns the customer-facing text for err. Errors outside the
// taxonomy collapse to a generic message so storage details never leak.
func UserMessage(err error) string {
	var (
		ve *ValidationError
		nf *NotFoundError
		lr *LimitReachedError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &lr):
		return lr.Error()
	default:
		return "internal error"
	}
}
