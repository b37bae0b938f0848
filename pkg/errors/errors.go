package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeAmbiguousThread = "AMBIGUOUS_THREAD"
	CodeModeMismatch    = "MODE_MISMATCH"
	CodeTransientStore  = "TRANSIENT_STORE_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeInternal        = "INTERNAL_ERROR"
)

type AppError struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Err       error
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

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// Validation is a local rejection: the input never reaches a store.
func Validation(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

// AmbiguousThread means a bidding-mode order was addressed without a tutor.
func AmbiguousThread(orderID string) *AppError {
	return &AppError{
		Code:    CodeAmbiguousThread,
		Message: fmt.Sprintf("order %s is in bidding mode, a tutor must be selected", orderID),
		Status:  http.StatusConflict,
	}
}

// ModeMismatch means the caller's view of the order is stale and it must re-resolve.
func ModeMismatch(orderID string, message string) *AppError {
	return &AppError{
		Code:    CodeModeMismatch,
		Message: fmt.Sprintf("order %s: %s", orderID, message),
		Status:  http.StatusConflict,
	}
}

// Transient wraps a store failure the user may retry by hand.
func Transient(message string, err error) *AppError {
	return &AppError{
		Code:      CodeTransientStore,
		Message:   message,
		Status:    http.StatusServiceUnavailable,
		Retryable: true,
		Err:       err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:      CodeTooManyRequests,
		Message:   message,
		Status:    http.StatusTooManyRequests,
		Retryable: true,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// As returns the AppError in err's chain, or nil.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
