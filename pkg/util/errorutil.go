package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared by the service, the HTTP surface and the CLI.
const (
	CodeValidation   = "VALIDATION_FAILED"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"

	CodeCredential    = "CREDENTIAL_ERROR"
	CodeProtocol      = "PROTOCOL_ERROR"
	CodeTransport     = "TRANSPORT_ERROR"
	CodeCapability    = "CAPABILITY_ERROR"
	CodeStorageWrite  = "STORAGE_WRITE_ERROR"
	CodeStorageClosed = "STORAGE_CLOSED"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error

	// StatusCode is the status returned by the remote brokerage, when known.
	StatusCode int
	// Payload is the raw remote response body, when one was received.
	Payload []byte
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewCredentialError reports a rejected username/password pair or OTP.
func NewCredentialError(message string, statusCode int, payload []byte) error {
	return &DomainError{
		Code:       CodeCredential,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
		StatusCode: statusCode,
		Payload:    payload,
	}
}

// NewProtocolError reports a remote response that is malformed or incomplete.
func NewProtocolError(message string, statusCode int, payload []byte) error {
	return &DomainError{
		Code:       CodeProtocol,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		StatusCode: statusCode,
		Payload:    payload,
	}
}

// NewTransportError reports connectivity failures, timeouts and remote 5xx.
func NewTransportError(message string, statusCode int, payload []byte, err error) error {
	return &DomainError{
		Code:       CodeTransport,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		StatusCode: statusCode,
		Payload:    payload,
		Err:        err,
	}
}

// NewCapabilityError reports an operation attempted without the required token tier.
func NewCapabilityError(message string) error {
	return NewDomainError(CodeCapability, message, http.StatusForbidden, nil)
}

// NewStorageWriteError reports that a record could not be persisted.
func NewStorageWriteError(err error) error {
	return &DomainError{
		Code:       CodeStorageWrite,
		Message:    "failed to persist token record",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewStorageClosedError reports use of a released storage backend.
func NewStorageClosedError(err error) error {
	return &DomainError{
		Code:       CodeStorageClosed,
		Message:    "token storage released",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err carries a DomainError with the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
