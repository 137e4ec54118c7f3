package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeForbidden    = "FORBIDDEN"

	// Caller errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeInputError   = "INPUT_ERROR"
	CodeMissingField = "MISSING_FIELD"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"

	// Collaborator errors
	CodeDependencyError = "DEPENDENCY_ERROR"
	CodeDatabaseError   = "DATABASE_ERROR"
	CodeTimeout         = "TIMEOUT"

	// Best-effort parsing; logged, never returned to callers
	CodeExtractionError = "EXTRACTION_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

func newError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, message)
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message)
}

// Input reports malformed or empty input. The target of the request is left untouched.
func Input(message string) *AppError {
	return newError(CodeInputError, http.StatusBadRequest, message)
}

func InputWithError(message string, err error) *AppError {
	return Input(message).WithError(err)
}

func MissingField(field string) *AppError {
	return newError(CodeMissingField, http.StatusBadRequest, "missing required field: "+field).
		WithDetail("field", field)
}

func NotFound(resource string) *AppError {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found")
}

// InvalidState reports a transition that is not allowed from the current status.
func InvalidState(message string) *AppError {
	return newError(CodeInvalidState, http.StatusConflict, message)
}

// Dependency wraps a failure of an external collaborator (mailbox, index, model, broker).
func Dependency(service string, err error) *AppError {
	return newError(CodeDependencyError, http.StatusBadGateway, "dependency error: "+service).
		WithDetail("service", service).
		WithError(err)
}

func DatabaseError(operation string, err error) *AppError {
	return newError(CodeDatabaseError, http.StatusInternalServerError, "database error: "+operation).WithError(err)
}

// Extraction marks a field the extractor could not read. It is logged and never surfaced.
func Extraction(field string, err error) *AppError {
	return newError(CodeExtractionError, http.StatusOK, "extraction failed: "+field).
		WithDetail("field", field).
		WithError(err)
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return newError(CodeInternalError, http.StatusInternalServerError, message)
}

func ConfigError(message string) *AppError {
	return newError(CodeConfigError, http.StatusInternalServerError, message)
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
