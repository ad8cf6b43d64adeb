package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Transport and decoding error codes
const (
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrStream         ErrorCode = "STREAM_ERROR"
	ErrRead           ErrorCode = "READ_ERROR"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Persistence error codes
const (
	ErrStorage ErrorCode = "STORAGE_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// NewNetworkError reports a failed round trip. A zero status means the request
// never produced a response. 401 and 403 get their own codes so callers can
// tell an auth problem apart from an outage.
func NewNetworkError(status int, message string) *Error {
	code := ErrNetwork
	switch status {
	case http.StatusUnauthorized:
		code = ErrUnauthorized
	case http.StatusForbidden:
		code = ErrForbidden
	}
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Retryable:  status == 0 || status == http.StatusTooManyRequests || status >= 500,
	}
}

// NewStreamError reports an unusable response body.
func NewStreamError(message string) *Error {
	return &Error{Code: ErrStream, Message: message}
}

// NewReadError reports a local file that could not be encoded.
func NewReadError(message string, cause error) *Error {
	return &Error{Code: ErrRead, Message: message, Cause: cause}
}

// AsError extracts a *Error from anywhere in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsAuthError reports whether err is the 401/403 flavour of a network error.
func IsAuthError(err error) bool {
	return IsErrorCode(err, ErrUnauthorized) || IsErrorCode(err, ErrForbidden)
}

// IsNetworkError reports whether err is any network error, auth included.
func IsNetworkError(err error) bool {
	return IsErrorCode(err, ErrNetwork) || IsAuthError(err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
