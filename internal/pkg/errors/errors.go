// Package errors provides the structured application error used at the HTTP
// boundary of the clearing house service, and the rule tables that translate
// domain sentinels into it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// internalMessage replaces the text of unmapped errors so storage details
// never reach the client.
const internalMessage = "An internal error occurred"

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	// Code is a machine-readable error code (e.g., "UPLOAD_NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// HTTPStatus is the corresponding HTTP status code.
	HTTPStatus int `json:"-"`

	// Params carries structured context for the portal frontend.
	Params map[string]interface{} `json:"params,omitempty"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error into an AppError.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// WithParams attaches structured parameters to the error.
func (e *AppError) WithParams(params map[string]interface{}) *AppError {
	if e == nil || len(params) == 0 {
		return e
	}
	e.Params = params
	return e
}

// NotFound creates a 404 error.
func NotFound(code, message string) *AppError {
	return New(code, message, http.StatusNotFound)
}

// BadRequest creates a 400 error.
func BadRequest(code, message string) *AppError {
	return New(code, message, http.StatusBadRequest)
}

// Forbidden creates a 403 error.
func Forbidden(code, message string) *AppError {
	return New(code, message, http.StatusForbidden)
}

// Conflict creates a 409 error.
func Conflict(code, message string) *AppError {
	return New(code, message, http.StatusConflict)
}

// TooManyRequests creates a 429 error, used when a metered limit is reached.
func TooManyRequests(code, message string) *AppError {
	return New(code, message, http.StatusTooManyRequests)
}

// Internal creates a 500 error.
func Internal(code, message string) *AppError {
	return New(code, message, http.StatusInternalServerError)
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Rule maps a sentinel to a code and status. An empty Code defers to the
// caller's fallback code, used for entity-specific not-found codes.
type Rule struct {
	Target error
	Code   string
	Status int
}

// Rules is an ordered mapping table; the first matching rule wins.
type Rules []Rule

// Map converts err into an AppError. An AppError already in the chain is
// returned unchanged. Unmatched errors become 500 with a generic message.
func (r Rules) Map(err error, fallbackCode string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := IsAppError(err); ok {
		return appErr
	}
	for _, rule := range r {
		if !errors.Is(err, rule.Target) {
			continue
		}
		code := rule.Code
		if code == "" {
			code = fallbackCode
		}
		return Wrap(err, code, err.Error(), rule.Status)
	}
	return Wrap(err, CodeInternal, internalMessage, http.StatusInternalServerError)
}
