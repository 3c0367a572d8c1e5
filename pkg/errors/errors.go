package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Session and handoff errors

var (
	// ErrSessionBusy indicates the session lock could not be acquired in time
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionExpired indicates the session passed its inactivity window
	ErrSessionExpired = errors.New("session expired")

	// ErrCircularHandoff indicates the proposed handoff would recreate a recent agent pair
	ErrCircularHandoff = errors.New("circular handoff detected")

	// ErrHandoffThrottled indicates the per-session handoff rate cap was hit
	ErrHandoffThrottled = errors.New("handoff rate cap exceeded")

	// ErrScorerTimeout indicates a candidate scorer exceeded its budget
	ErrScorerTimeout = errors.New("scorer timeout")

	// ErrSnapshotExpired indicates a context snapshot was read past its TTL
	ErrSnapshotExpired = errors.New("context snapshot expired")
)

// Cache and model-invocation errors

var (
	// ErrCacheTierUnavailable indicates a cache tier failed or timed out
	ErrCacheTierUnavailable = errors.New("cache tier unavailable")

	// ErrCacheMiss indicates no entry was found in any tier
	ErrCacheMiss = errors.New("cache miss")

	// ErrProviderUnavailable indicates a model provider call failed
	ErrProviderUnavailable = errors.New("model provider unavailable")

	// ErrProvidersExhausted indicates every provider in the fallback chain failed
	ErrProvidersExhausted = errors.New("all model providers exhausted")

	// ErrRateLimitExceeded indicates a provider-side rate limit was hit
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Delivery errors

var (
	// ErrComplianceViolation indicates outbound content failed a compliance check
	ErrComplianceViolation = errors.New("compliance violation")

	// ErrOptedOut indicates the contact has revoked messaging consent
	ErrOptedOut = errors.New("contact opted out")

	// ErrQuotaExceeded indicates the per-contact send quota was reached
	ErrQuotaExceeded = errors.New("send quota exceeded")

	// ErrCrmUnavailable indicates the CRM collaborator is unreachable
	ErrCrmUnavailable = errors.New("crm unavailable")
)

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
