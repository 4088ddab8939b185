package http

import (
	"errors"
	"log/slog"
	"net/http"

	mw "github.com/lorrc/workspace-realtime/internal/adapters/primary/http/middleware"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
)

// ErrorResponse is the standard JSON error response format
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

// ValidationErrorResponse includes field-level validation errors
type ValidationErrorResponse struct {
	Error     string              `json:"error"`
	Code      string              `json:"code"`
	Fields    map[string][]string `json:"fields,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
}

// errorMapping translates one family of sentinel errors. When message is
// empty the wrapped error text is returned to the caller.
type errorMapping struct {
	targets []error
	status  int
	code    string
	message string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{[]error{apperrors.ErrInvalidToken}, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token"},
	{[]error{apperrors.ErrUnauthorized}, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"},
	{[]error{apperrors.ErrForbidden, apperrors.ErrIdentityMismatch}, http.StatusForbidden, "FORBIDDEN", "You do not have permission to perform this action"},
	{[]error{apperrors.ErrUserNotFound}, http.StatusNotFound, "USER_NOT_FOUND", "User not found"},
	{[]error{apperrors.ErrConnectionNotFound}, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection not found"},
	{[]error{apperrors.ErrNotFound}, http.StatusNotFound, "NOT_FOUND", "Resource not found"},
	{[]error{apperrors.ErrUnknownEvent}, http.StatusBadRequest, "UNKNOWN_EVENT", ""},
	{[]error{apperrors.ErrInvalidPayload, apperrors.ErrInvalidRoom, apperrors.ErrBadRequest}, http.StatusBadRequest, "BAD_REQUEST", ""},
	{[]error{apperrors.ErrInvalidEvent}, http.StatusUnprocessableEntity, "VALIDATION_ERROR", ""},
	{[]error{apperrors.ErrQueueFull, apperrors.ErrHubStopped}, http.StatusServiceUnavailable, "UNAVAILABLE", "Realtime service is busy. Please retry."},
	{[]error{apperrors.ErrRateLimited}, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later."},
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle writes the HTTP response for err and logs it once.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	requestID := mw.GetRequestID(r.Context())

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.logError(r, appErr.StatusCode, err, requestID)
		WriteJSON(w, appErr.StatusCode, ErrorResponse{
			Error:     appErr.Message,
			Code:      appErr.Code,
			Details:   appErr.Details,
			RequestID: requestID,
		})
		return
	}

	var validationErrs *apperrors.ValidationErrors
	if errors.As(err, &validationErrs) {
		h.logError(r, http.StatusUnprocessableEntity, err, requestID)
		WriteJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:     "Validation failed",
			Code:      "VALIDATION_ERROR",
			Fields:    validationErrs.Errors,
			RequestID: requestID,
		})
		return
	}

	appErr = mapDomainError(err)
	h.logError(r, appErr.StatusCode, err, requestID)
	WriteJSON(w, appErr.StatusCode, ErrorResponse{
		Error:     appErr.Message,
		Code:      appErr.Code,
		RequestID: requestID,
	})
}

// mapDomainError resolves err against errorMappings. Unmapped errors become
// an opaque internal error so their text never reaches the caller.
func mapDomainError(err error) *apperrors.AppError {
	for _, m := range errorMappings {
		for _, target := range m.targets {
			if !errors.Is(err, target) {
				continue
			}
			message := m.message
			if message == "" {
				message = err.Error()
			}
			return &apperrors.AppError{Err: err, Message: message, Code: m.code, StatusCode: m.status}
		}
	}
	return apperrors.NewInternalError(err)
}

func (h *ErrorHandler) logError(r *http.Request, status int, err error, requestID string) {
	attrs := []any{
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status_code", status,
		"error", err.Error(),
	}

	switch {
	case status == http.StatusServiceUnavailable, status == http.StatusTooManyRequests:
		h.logger.Warn("request shed", attrs...)
	case status >= 500:
		h.logger.Error("server error", attrs...)
	default:
		h.logger.Debug("client error", attrs...)
	}
}
