package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the storefront error taxonomy.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
	ErrNotReady       = errors.New("not ready")
	ErrInvalidState   = errors.New("invalid state")
)

// APIError is a structured error carried to API responses.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewEmptyCartError rejects operations that need at least one cart line.
func NewEmptyCartError() *APIError {
	return &APIError{
		Code:       "EMPTY_CART",
		Message:    "your cart is empty",
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewRejectedError surfaces a backend constraint violation with the
// backend's own message.
func NewRejectedError(message string) *APIError {
	return &APIError{
		Code:       "REJECTED",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewLoginRequiredError is returned when a guest attempts a signed-in action.
func NewLoginRequiredError(action string) *APIError {
	return &APIError{
		Code:       "LOGIN_REQUIRED",
		Message:    fmt.Sprintf("please sign in to %s", action),
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewForbiddenError creates a 403 error for authenticated but unprivileged calls.
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:       "FORBIDDEN",
		Message:    reason,
		StatusCode: http.StatusForbidden,
		Err:        ErrUnauthorized,
	}
}

// NewUpstreamError creates a 502 error for backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewPaymentError creates a 402 error for payment issues.
func NewPaymentError(reason string) *APIError {
	return &APIError{
		Code:       "PAYMENT_ERROR",
		Message:    reason,
		StatusCode: http.StatusPaymentRequired,
		Err:        ErrPaymentFailed,
	}
}

// NewNotReadyError reports a dependency that did not become available
// within the bounded wait. The caller may retry the operation.
func NewNotReadyError(component string) *APIError {
	return &APIError{
		Code:       "NOT_READY",
		Message:    fmt.Sprintf("%s is not ready, please retry", component),
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrNotReady,
	}
}

// NewStateError rejects an operation that is not valid in the current step.
func NewStateError(operation, state string) *APIError {
	return &APIError{
		Code:       "INVALID_STATE",
		Message:    fmt.Sprintf("cannot %s while checkout is %s", operation, state),
		StatusCode: http.StatusConflict,
		Err:        ErrInvalidState,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}
