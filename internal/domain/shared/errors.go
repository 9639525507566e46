// Package shared contains common domain types, errors and events that are
// used across all securecore packages. This package has zero external
// dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrMonotonicity    = errors.New("monotonic field cannot decrease")
	ErrInsufficient    = errors.New("insufficient balance")

	// Integrity errors
	ErrIntegrityCheck   = errors.New("integrity check failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrTampering        = errors.New("tampering detected")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrClosed       = errors.New("subsystem closed")
	ErrExpired      = errors.New("expired")

	// Network errors
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrThrottled           = errors.New("request throttled locally")
	ErrCertificateRejected = errors.New("server certificate not pinned")
	ErrExternalService     = errors.New("external service error")
	ErrTimeout             = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "state", "integrity", "channel"
	Op      string // operation that failed, e.g. "Load", "AddCoins"
	Kind    error  // base error type for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Channel domain errors
var (
	ErrSessionExpired  = NewDomainError("channel", "Authorize", ErrNotAuthenticated, "session expired")
	ErrSessionMissing  = NewDomainError("channel", "Authorize", ErrNotAuthenticated, "no active session")
	ErrEndpointFlooded = NewDomainError("channel", "Throttle", ErrThrottled, "endpoint burst limit exceeded")
)
