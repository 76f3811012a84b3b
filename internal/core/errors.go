package core

import (
	"errors"
	"fmt"
)

// Error kinds used to classify bad arguments.
//
//	if errors.Is(err, core.ErrTypeError) {
//	    // handler was not invokable
//	}
var (
	// ErrTypeError marks arguments of the wrong kind, such as a nil handler.
	ErrTypeError = errors.New("core: type error")

	// ErrValueError marks arguments with an out-of-range value.
	ErrValueError = errors.New("core: value error")
)

// ValidationError reports malformed input rejected before any mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError is a convenience constructor.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an operation on an absent registry or config entry.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// InvalidStateTransitionError reports a lifecycle move outside the allowed graph.
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// SchemaValidationError reports a malformed service schema at registration time.
type SchemaValidationError struct {
	Field   string
	Message string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("invalid schema for %q: %s", e.Field, e.Message)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
