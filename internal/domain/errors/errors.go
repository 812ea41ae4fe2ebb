package errors

import (
	"errors"
	"fmt"

	"github.com/cassiomorais/orderrecon/pkg/signer"
)

var (
	// Order errors
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrOptimisticLockFailed   = errors.New("optimistic lock conflict")
	ErrNotCancelable          = errors.New("order is not cancelable")
	ErrIllegalPaymentStatus   = errors.New("illegal status and payment status combination")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// Provider errors
	ErrProviderNotFound    = errors.New("payment provider not found")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment rejected by provider")
	ErrProviderTimeout     = errors.New("provider request timeout")
	ErrNoProviderHandle    = errors.New("order has no provider handle")

	// Webhook errors
	ErrSignatureInvalid  = signer.ErrSignatureInvalid
	ErrUnrecognizedEvent = errors.New("unrecognized event")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Step-up errors
	ErrCooldown        = errors.New("access code cooldown")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrCodeNotFound    = errors.New("access code not found")
	ErrCodeExpired     = errors.New("access code expired")
	ErrCodeExhausted   = errors.New("access code attempts exhausted")
	ErrCodeInvalid     = errors.New("access code invalid")
	ErrBindingMissing  = errors.New("session binding missing")
	ErrBindingMismatch = errors.New("session binding mismatch")
	ErrStepUpRequired  = errors.New("step-up authentication required")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// CodeTransitionRejected is the DomainError code for a refused ledger transition,
// either a stale version or an illegal move in the status order.
const CodeTransitionRejected = "transition_rejected"

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
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

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewTransitionRejected builds the error returned for a refused transition.
// cause is ErrOptimisticLockFailed for stale reads, ErrInvalidStateTransition
// or ErrIllegalPaymentStatus otherwise.
func NewTransitionRejected(message string, cause error) *DomainError {
	return NewDomainError(CodeTransitionRejected, message, cause)
}

// IsTransitionRejected reports whether err is a refused ledger transition.
func IsTransitionRejected(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == CodeTransitionRejected
}

// IsStale reports whether err was caused by an optimistic concurrency conflict.
// Callers re-read and retry on stale errors.
func IsStale(err error) bool {
	return errors.Is(err, ErrOptimisticLockFailed)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
