package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
)

// ErrorCode is the uniform error taxonomy shared by all adapters.
type ErrorCode string

const (
	ErrQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	ErrRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrInvalidResponse   ErrorCode = "INVALID_RESPONSE"
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrUnknown           ErrorCode = "UNKNOWN_ERROR"
)

// HTTPErrorCode maps an upstream HTTP status into the taxonomy.
func HTTPErrorCode(status int) ErrorCode {
	return ErrorCode("HTTP_" + strconv.Itoa(status))
}

// HTTPStatus extracts the status from an HTTP_<status> code.
func (c ErrorCode) HTTPStatus() (int, bool) {
	s, ok := strings.CutPrefix(string(c), "HTTP_")
	if !ok {
		return 0, false
	}
	status, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return status, true
}

// FallbackEligible reports whether an error code should advance the
// orchestrator to the next candidate regardless of adapter policy:
// quota, rate limit, timeout, open breaker, 5xx, 429 and 408.
func (c ErrorCode) FallbackEligible() bool {
	switch c {
	case ErrQuotaExceeded, ErrRateLimitExceeded, ErrTimeout, ErrCircuitOpen:
		return true
	}
	if status, ok := c.HTTPStatus(); ok {
		return status >= 500 || status == 429 || status == 408
	}
	return false
}

// Error is the adapter-level failure record flowing through the pipeline.
type Error struct {
	StatusCode int       `json:"statusCode,omitempty"`
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	RawError   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.RawError
}

// NewError builds an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, RawError: errors.New(message)}
}

// NewHTTPError builds an Error from an upstream status and body excerpt.
func NewHTTPError(status int, message string) *Error {
	return &Error{
		StatusCode: status,
		Code:       HTTPErrorCode(status),
		Message:    message,
		RawError:   errors.Errorf("upstream status %d: %s", status, message),
	}
}

// WrapError builds an Error around an existing cause.
func WrapError(code ErrorCode, err error, message string) *Error {
	return &Error{Code: code, Message: message, RawError: errors.Wrap(err, message)}
}

// Response converts the error into a terminal error response.
func (e *Error) Response(provider, model string) *Response {
	return &Response{
		Provider:     provider,
		Model:        model,
		IsSuccess:    false,
		ErrorCode:    e.Code,
		ErrorMessage: e.Message,
	}
}

// AsError extracts a *model.Error from an arbitrary error, wrapping unknown
// causes under ErrUnknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return &Error{Code: ErrUnknown, Message: err.Error(), RawError: err}
}
