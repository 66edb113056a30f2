// Package errors provides the unified error handling for the engine.
// Every layer returns the same typed error so callers can branch on
// category instead of string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType defines the category of error for proper handling and response.
type ErrorType string

const (
	// Business logic errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"

	// Infrastructure errors
	ErrorTypeInternal ErrorType = "INTERNAL"
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError is the single error type used across all application layers.
type AppError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Operation string    `json:"operation,omitempty"` // the operation that failed
	Resource  string    `json:"resource,omitempty"`  // the resource being operated on
	Err       error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithOperation attaches the failing operation name for logging context.
func (e *AppError) WithOperation(op string) *AppError {
	e.Operation = op
	return e
}

// WithResource attaches the resource identifier for logging context.
func (e *AppError) WithResource(resource string) *AppError {
	e.Resource = resource
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Message: message}
}

// NewNotFoundError creates a not found error for the named resource.
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:     ErrorTypeNotFound,
		Message:  resource + " not found",
		Resource: resource,
	}
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *AppError {
	return &AppError{Type: ErrorTypeConflict, Message: message}
}

// NewInternalError creates an internal error wrapping a cause.
func NewInternalError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// NewExternalError creates an error for a failed upstream call.
func NewExternalError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeExternal, Message: message, Err: err}
}

// Wrap wraps an error with additional context, preserving its type when it
// is already an AppError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Type:      appErr.Type,
			Message:   fmt.Sprintf("%s: %s", message, appErr.Message),
			Operation: appErr.Operation,
			Resource:  appErr.Resource,
			Err:       appErr.Err,
		}
	}

	return &AppError{Type: ErrorTypeInternal, Message: message, Err: err}
}

// TypeOf returns the error's category, defaulting to INTERNAL for
// unclassified errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return TypeOf(err) == ErrorTypeValidation }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return TypeOf(err) == ErrorTypeNotFound }

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool { return TypeOf(err) == ErrorTypeConflict }

// IsExternal checks if an error originated in an upstream dependency.
func IsExternal(err error) bool { return TypeOf(err) == ErrorTypeExternal }

// HTTPStatus maps an error category to the response status used by the
// REST layer.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
