package common

import (
	"errors"
	"net/http"
)

// Common error types
var (
	ErrNotFound      = errors.New("resource not found")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("resource conflict")
	ErrBusinessRule  = errors.New("business rule violation")
	ErrQuotaExceeded = errors.New("redemption quota exceeded")
	ErrInternal      = errors.New("internal server error")
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "application error"
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:      http.StatusNotFound,
		ErrorCode: "not_found",
		Message:   message,
		Err:       ErrNotFound,
	}
}

// NewValidationError reports malformed input or a create-time invariant violation.
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: "validation_error",
		Message:   message,
		Err:       ErrValidation,
	}
}

// NewConflictError reports an illegal state transition or a duplicate unique key.
func NewConflictError(message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: "conflict",
		Message:   message,
		Err:       ErrConflict,
	}
}

// NewQuotaExceededError reports an exhausted redemption quota. It is a
// conflict for HTTP purposes but carries its own sentinel so callers can
// tell quota contention apart from other conflicts.
func NewQuotaExceededError(message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: "quota_exceeded",
		Message:   message,
		Err:       ErrQuotaExceeded,
	}
}

// NewBusinessRuleError reports an eligibility or cap violation, distinct
// from basic input validation.
func NewBusinessRuleError(message string) *AppError {
	return &AppError{
		Code:      http.StatusUnprocessableEntity,
		ErrorCode: "business_rule",
		Message:   message,
		Err:       ErrBusinessRule,
	}
}

// NewInternalError reports an unexpected failure.
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: "internal",
		Message:   message,
		Err:       err,
	}
}

// IsQuotaExceeded reports whether err is a quota-exhaustion conflict.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// IsConflict reports whether err is any conflict, including quota exhaustion.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrQuotaExceeded)
}

// IsNotFound reports whether err indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
