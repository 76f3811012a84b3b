package service

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Domain errors for the service package.
var (
	// ErrInvalidHandler is returned when registering a nil handler.
	ErrInvalidHandler = fmt.Errorf("service: handler is not callable: %w", core.ErrTypeError)

	// ErrInvalidSupportsResponse is returned for a supports_response value
	// outside none, optional and only.
	ErrInvalidSupportsResponse = fmt.Errorf("service: invalid supports_response: %w", core.ErrValueError)

	// ErrInvalidName is returned when a domain or service name is malformed.
	ErrInvalidName = fmt.Errorf("service: invalid name: %w", core.ErrValueError)

	// ErrResponseNotSupported is returned when a response is requested from
	// a service that never returns one.
	ErrResponseNotSupported = errors.New("service: service does not support responses")

	// ErrResponseRequired is returned when a service that only works with
	// responses is called without asking for one.
	ErrResponseRequired = errors.New("service: service requires return_response")

	// ErrNoResponse is returned when a response-only handler returns nothing.
	ErrNoResponse = errors.New("service: handler returned no response")
)

// HandlerError wraps an error raised by a service handler.
type HandlerError struct {
	Domain  string
	Service string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("service %s.%s failed: %v", e.Domain, e.Service, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
