// Package errors provides standardized error types for the domain layer.
// These errors provide consistent error handling across all services
// and enable proper error categorization for HTTP responses.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request is not authorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the request is forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrServiceUnavailable indicates the service is temporarily unavailable
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInsufficientFunds indicates the available balance cannot cover the request
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState indicates a state machine transition from an invalid state
	ErrInvalidState = errors.New("invalid state transition")

	// ErrDuplicateEntry indicates an append that would violate a uniqueness guarantee.
	// Callers relying on idempotency treat this as "already applied".
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrConservation indicates the ledger conservation invariant does not hold.
	// Never expected in correct operation; requires operator intervention.
	ErrConservation = errors.New("conservation invariant violated")

	// ErrNoMatchingLock indicates an unlock or debit whose withdrawal
	// never locked funds. Appending the offsetting entries anyway would
	// mint balance out of nothing.
	ErrNoMatchingLock = errors.New("no matching lock entry")

	// ErrInvalidKey indicates an extended public key that cannot be parsed
	ErrInvalidKey = errors.New("invalid extended public key")

	// ErrSigning indicates a signing failure. Fatal: must not be retried.
	ErrSigning = errors.New("signing failed")

	// ErrBroadcast indicates a broadcast failure. Retryable with a fresh nonce/fee.
	ErrBroadcast = errors.New("broadcast failed")
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// WithRetryable marks the error as retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// IsRetryable returns true if the error is retryable
func (e *DomainError) IsRetryable() bool {
	return e.Retryable
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ValidationError creates a validation error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("%s: %s", field, message),
		Details: map[string]interface{}{"field": field},
	}
}

// InsufficientFundsError creates an insufficient funds error with balance context
func InsufficientFundsError(available, requested string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientFunds,
		Code:    "INSUFFICIENT_FUNDS",
		Message: fmt.Sprintf("insufficient funds: available %s, requested %s", available, requested),
		Details: map[string]interface{}{"available": available, "requested": requested},
	}
}

// InvalidStateError creates an invalid state transition error
func InvalidStateError(from, to string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidState,
		Code:    "INVALID_STATE",
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
	}
}

// NoMatchingLockError reports a balance movement that has no lock
// entry to offset
func NoMatchingLockError(refID string) *DomainError {
	return &DomainError{
		Err:     ErrNoMatchingLock,
		Code:    "NO_MATCHING_LOCK",
		Message: fmt.Sprintf("no lock entry for withdrawal %s", refID),
	}
}

// SigningError wraps a fatal signer failure
func SigningError(err error) *DomainError {
	return &DomainError{
		Err:       ErrSigning,
		Code:      "SIGNING_ERROR",
		Message:   fmt.Sprintf("signing failed: %v", err),
		Retryable: false,
	}
}

// BroadcastError wraps a retryable broadcast failure
func BroadcastError(err error) *DomainError {
	return &DomainError{
		Err:       ErrBroadcast,
		Code:      "BROADCAST_ERROR",
		Message:   fmt.Sprintf("broadcast failed: %v", err),
		Retryable: true,
	}
}

// IsRetryable reports whether err (or anything it wraps) is marked retryable
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return errors.Is(err, ErrServiceUnavailable)
}
