package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/credentials"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// HTTPError represents a structured HTTP error response.
type HTTPError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTP error codes.
const (
	ErrCodeNotFound = "not_found"
	ErrCodeInternal = "internal_error"
)

// Command error codes sent in result envelopes.
const (
	CodeInvalidFormat          = "invalid_format"
	CodeUnknownCommand         = "unknown_command"
	CodeNotFound               = "not_found"
	CodeIDReuse                = "id_reuse"
	CodeServiceValidationError = "service_validation_error"
	CodeHomeAssistantError     = "home_assistant_error"
	CodeAlreadyExists          = "already_exists"
	CodeUnknownError           = "unknown_error"
)

// commandError carries an explicit protocol code and message.
type commandError struct {
	code    string
	message string
}

func (e *commandError) Error() string { return e.message }

func newCommandError(code, format string, args ...any) *commandError {
	return &commandError{code: code, message: fmt.Sprintf(format, args...)}
}

// requiredKey reports a missing command field in the wording clients expect.
func requiredKey(name string) error {
	return newCommandError(CodeInvalidFormat, "required key not provided @ data['%s']", name)
}

// codeFor maps an error returned by a hub resource to a protocol code.
func codeFor(err error) string {
	var ce *commandError
	var transition *core.InvalidStateTransitionError
	var handler *service.HandlerError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return ce.code
	case core.IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, credentials.ErrAlreadyExists),
		errors.Is(err, configentry.ErrEntryExists),
		errors.Is(err, configentry.ErrAlreadyConfigured):
		return CodeAlreadyExists
	case core.IsValidation(err),
		errors.Is(err, core.ErrTypeError),
		errors.Is(err, core.ErrValueError),
		errors.Is(err, configentry.ErrInvalidEntry):
		return CodeInvalidFormat
	case errors.As(err, &transition),
		errors.As(err, &handler),
		errors.Is(err, configentry.ErrEntryDisabled),
		errors.Is(err, configentry.ErrNotReady),
		errors.Is(err, credentials.ErrNoEndpoint):
		return CodeHomeAssistantError
	default:
		return CodeUnknownError
	}
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, HTTPError{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
