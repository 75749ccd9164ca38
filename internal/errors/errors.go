package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrSignature    = errors.New("invalid signature")
	ErrUpstream     = errors.New("upstream integration failed")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeUpstream   ErrorType = "upstream"
	ErrorTypeSignature  ErrorType = "signature"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
)

// BackofficeError is a structured error carrying enough context to log the
// failure in detail while exposing only a safe message to HTTP clients.
type BackofficeError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "xero.create_invoice")
	Provider   string // External system, if any ("stripe", "xero", "smtp")
	Message    string // Client-safe message; empty means a generic one is used
	Err        error  // Underlying error
	StatusCode int    // Upstream HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *BackofficeError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Provider, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *BackofficeError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *BackofficeError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth
	case ErrForbidden:
		return e.Type == ErrorTypeForbidden
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrSignature:
		return e.Type == ErrorTypeSignature
	case ErrUpstream:
		return e.Type == ErrorTypeUpstream
	case ErrConflict:
		return e.Type == ErrorTypeConflict
	}

	return errors.Is(e.Err, target)
}

// New creates a new BackofficeError
func New(errorType ErrorType, op string, err error) *BackofficeError {
	return &BackofficeError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// WithMessage sets the client-safe message.
func (e *BackofficeError) WithMessage(msg string) *BackofficeError {
	e.Message = msg
	return e
}

// WithStatusCode adds the upstream HTTP status code to the error
func (e *BackofficeError) WithStatusCode(code int) *BackofficeError {
	e.StatusCode = code
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// Retryable here means the upstream sender may redeliver; the service itself
// never retries.
func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeUpstream, ErrorTypeInternal:
		return true
	default:
		return false
	}
}

// Validation wraps a request validation failure. msg is shown to the client.
func Validation(op, msg string) error {
	return New(ErrorTypeValidation, op, nil).WithMessage(msg)
}

// NotFound reports a missing record.
func NotFound(op, what string) error {
	return New(ErrorTypeNotFound, op, fmt.Errorf("%s: %w", what, ErrNotFound)).WithMessage(what + " not found")
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(op string, err error) error {
	return New(ErrorTypeAuth, op, err).WithMessage("Unauthorized")
}

// Forbidden reports an authenticated caller without the required role.
func Forbidden(op string) error {
	return New(ErrorTypeForbidden, op, nil).WithMessage("Forbidden")
}

// Signature reports a webhook signature verification failure.
func Signature(op, provider string, err error) error {
	e := New(ErrorTypeSignature, op, err)
	e.Provider = provider
	return e
}

// Upstream wraps a failed call to an external integration.
func Upstream(op, provider string, err error) *BackofficeError {
	e := New(ErrorTypeUpstream, op, err)
	e.Provider = provider
	return e
}

// Conflict reports a uniqueness violation. msg is shown to the client.
func Conflict(op, msg string) error {
	return New(ErrorTypeConflict, op, nil).WithMessage(msg)
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var boErr *BackofficeError
	if errors.As(err, &boErr) {
		switch boErr.Type {
		case ErrorTypeValidation, ErrorTypeSignature, ErrorTypeConflict:
			return http.StatusBadRequest
		case ErrorTypeAuth:
			return http.StatusUnauthorized
		case ErrorTypeForbidden:
			return http.StatusForbidden
		case ErrorTypeNotFound:
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to show a client. Upstream and
// internal failures never leak their details; fallback is used instead.
func PublicMessage(err error, fallback string) string {
	var boErr *BackofficeError
	if errors.As(err, &boErr) && boErr.Message != "" {
		switch boErr.Type {
		case ErrorTypeUpstream, ErrorTypeInternal:
		default:
			return boErr.Message
		}
	}
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		if errors.Is(err, ErrSignature) {
			return "invalid signature"
		}
		return "Invalid request"
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusForbidden:
		return "Forbidden"
	case http.StatusNotFound:
		return "Not found"
	}
	return fallback
}

// IsRetryableError checks if the failure is worth a redelivery by the sender.
func IsRetryableError(err error) bool {
	var boErr *BackofficeError
	if errors.As(err, &boErr) {
		return boErr.Retryable
	}
	return false
}

// IsAuthError checks if an error is an authentication or authorization error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
