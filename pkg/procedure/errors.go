package procedure

import (
	"fmt"
	"net/http"
)

// Error is a structured application error carrying the HTTP status code the
// envelope should report. Unstructured errors default to 500 at the envelope
// boundary.
type Error struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// NewError creates a structured Error with the given status code and message.
func NewError(statusCode int, message string) *Error {
	return &Error{StatusCode: statusCode, Message: message}
}

// NewValidation creates a 400 validation failure.
func NewValidation(message string) *Error {
	return NewError(http.StatusBadRequest, message)
}

// NewUnauthorized creates a 401 failure.
func NewUnauthorized(message string) *Error {
	return NewError(http.StatusUnauthorized, message)
}

// NewForbidden creates a 403 failure.
func NewForbidden(message string) *Error {
	return NewError(http.StatusForbidden, message)
}

// NewNotFound creates the 404 failure for an unregistered path.
func NewNotFound(path string) *Error {
	return NewError(http.StatusNotFound, fmt.Sprintf("No procedure found on path %q", path))
}

// NewSubscriptionTimeout creates the 408 failure emitted when a subscription
// exceeds its configured duration.
func NewSubscriptionTimeout(timeoutMs int64) *Error {
	return NewError(http.StatusRequestTimeout,
		fmt.Sprintf("Subscription exceeded %dms - please reconnect.", timeoutMs))
}
