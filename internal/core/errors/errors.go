package errors

import (
	"errors"
	"fmt"
)

// Domain errors - these represent protocol or business rule violations
var (
	// Authentication & Authorization
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("action forbidden")
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrUserNotFound     = errors.New("user not found")
	ErrNotIdentified    = errors.New("connection has not identified")
	ErrIdentityMismatch = errors.New("connection is already identified as a different user")
	ErrIdentityRequired = errors.New("identity user ID is required")

	// Connections & rooms
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidRoom        = errors.New("invalid room")
	ErrNotInWorkspace     = errors.New("connection is not in a workspace room")

	// Events & wire messages
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrUnknownMessage = errors.New("unknown client message type")
	ErrInvalidPayload = errors.New("invalid message payload")

	// Transport
	ErrQueueFull       = errors.New("realtime queue is full")
	ErrSendBufferFull  = errors.New("connection send buffer is full")
	ErrTransportClosed = errors.New("transport is closed")
	ErrHubStopped      = errors.New("realtime hub is not running")

	// Generic
	ErrNotFound    = errors.New("resource not found")
	ErrUnavailable = errors.New("dependency not available")
	ErrInternal    = errors.New("internal server error")
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// AppError wraps errors with additional context for HTTP responses
type AppError struct {
	Err        error  // The underlying error
	Message    string // User-friendly message
	Code       string // Machine-readable error code
	StatusCode int    // HTTP status code
	Details    map[string]any
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases
func NewBadRequestError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "BAD_REQUEST",
		StatusCode: 400,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		StatusCode: 401,
	}
}

func NewUnavailableError(err error, message string) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "UNAVAILABLE",
		StatusCode: 503,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "An unexpected error occurred",
		Code:       "INTERNAL_ERROR",
		StatusCode: 500,
	}
}

// ValidationErrors holds multiple field validation errors
type ValidationErrors struct {
	Errors map[string][]string `json:"errors"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make(map[string][]string),
	}
}

func (v *ValidationErrors) Add(field, message string) {
	v.Errors[field] = append(v.Errors[field], message)
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("validation failed: %d field(s) have errors", len(v.Errors))
}

// Unwrap lets callers match validation failures against ErrInvalidEvent.
func (v *ValidationErrors) Unwrap() error {
	return ErrInvalidEvent
}
