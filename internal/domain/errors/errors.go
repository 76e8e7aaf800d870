package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeCancelled  ErrorType = "cancelled"
	ErrorTypeCrypto     ErrorType = "crypto"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewTransientError marks a transport failure that is safe to retry at the
// call site.
func NewTransientError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "TRANSIENT_TRANSPORT_ERROR",
		Message:    fmt.Sprintf("%s transport error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewTimeoutError reports a per-call deadline that was exceeded.
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Code:       "DEADLINE_EXCEEDED",
		Message:    fmt.Sprintf("%s exceeded its deadline", operation),
		Retryable:  true,
		StatusCode: 504,
	}
}

// NewCancelledError reports caller-initiated cancellation. It is never
// treated as a failure by the scan engine.
func NewCancelledError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeCancelled,
		Code:       "CANCELLED",
		Message:    fmt.Sprintf("%s was cancelled", operation),
		Retryable:  false,
		StatusCode: 499,
	}
}

// NewEncryptionError reports a failure in the crypto service. The cause is
// kept for logs but the message stays free of key material and plaintext.
func NewEncryptionError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeCrypto,
		Code:       "ENCRYPTION_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

// NewPersistenceError reports a storage write failure.
func NewPersistenceError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "PERSISTENCE_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewTransitionError reports an illegal checkpoint status arc. This is a
// programmer error, fatal for the call but not for the scan.
func NewTransitionError(from, to string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       "ILLEGAL_TRANSITION",
		Message:    fmt.Sprintf("illegal status transition %s -> %s", from, to),
		Retryable:  false,
		StatusCode: 409,
	}
}

// NewConfigError reports invalid configuration. Fatal at startup.
func NewConfigError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       "CONFIG_INVALID",
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

// NewExtractionError reports that a text extraction strategy failed or the
// extracted text did not meet quality thresholds. Non-fatal for the item.
func NewExtractionError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       "EXTRACTION_FAILED",
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

// Predefined common errors
var (
	ErrInvalidInput       = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrScanNotFound       = NewNotFoundError("scan")
	ErrCheckpointNotFound = NewNotFoundError("checkpoint")
	ErrSpaceNotFound      = NewNotFoundError("space")
	ErrPageNotFound       = NewNotFoundError("page")
	ErrScanAlreadyActive  = NewConflictError("A scan is already active")
	ErrRevealDisabled     = NewForbiddenError("Plaintext reveal is disabled by configuration")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsCancelled reports whether the error chain carries caller cancellation.
func IsCancelled(err error) bool {
	return IsType(err, ErrorTypeCancelled)
}

// IsTimeout reports whether the error chain carries a deadline expiry.
func IsTimeout(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

// IsRetryable checks if an error can be retried
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
