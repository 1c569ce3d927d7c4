/*
errors.go - Centralized error types for the procurement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match them with errors.Is / errors.As; nothing here panics.

ERROR CATEGORIES:
  1. Validation errors - business rule failures returned as values
     (*ValidationError carrying one of the ErrorKind constants)
  2. Input errors - malformed calls (unknown item IDs, empty actor),
     wrapped around ErrInvalidInput and never a ValidationError
  3. Store errors - not found, version conflicts, duplicate keys

USAGE:
  next, err := machine.Approve(req, generic.StatusPending, adjustments, nil, "finance-1")
  var verr *generic.ValidationError
  if errors.As(err, &verr) {
      show(verr.Result().Errors[0])
  }
  if errors.Is(err, generic.ErrStaleState) {
      // re-fetch and retry
  }

SEE ALSO:
  - procurement/*.go: Produce ValidationErrors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput marks a malformed call, as opposed to a rule violation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("purchase request not found")

	// ErrDuplicateRequest is returned when creating a request whose ID exists.
	ErrDuplicateRequest = errors.New("purchase request already exists")

	// ErrConcurrentModification is returned when a versioned save loses the race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a submission is replayed.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// One sentinel per validation kind, so errors.Is works on *ValidationError.
var (
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrMissingAdjustmentReason = errors.New("missing adjustment reason")
	ErrReconciliationMismatch  = errors.New("reconciliation mismatch")
	ErrInvalidRejectionReason  = errors.New("invalid rejection reason")
	ErrStaleState              = errors.New("stale state")
)

// =============================================================================
// VALIDATION ERRORS - Carry kind, item and messages
// =============================================================================

type ErrorKind string

const (
	KindInvalidTransition       ErrorKind = "InvalidTransition"
	KindInvalidQuantity         ErrorKind = "InvalidQuantity"
	KindMissingAdjustmentReason ErrorKind = "MissingAdjustmentReason"
	KindReconciliationMismatch  ErrorKind = "ReconciliationMismatch"
	KindInvalidRejectionReason  ErrorKind = "InvalidRejectionReason"
	KindStaleState              ErrorKind = "StaleState"
)

// Sentinel returns the errors.Is target for the kind.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindInvalidQuantity:
		return ErrInvalidQuantity
	case KindMissingAdjustmentReason:
		return ErrMissingAdjustmentReason
	case KindReconciliationMismatch:
		return ErrReconciliationMismatch
	case KindInvalidRejectionReason:
		return ErrInvalidRejectionReason
	case KindStaleState:
		return ErrStaleState
	}
	return nil
}

// ValidationError is a rule violation. Messages[0] is the primary message.
type ValidationError struct {
	Kind     ErrorKind
	ItemID   ItemID // empty when the failure is not item-specific
	Position int    // 1-based item position, 0 when not item-specific
	Messages []string
}

func NewValidationError(kind ErrorKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Messages: []string{fmt.Sprintf(format, args...)}}
}

// NewItemError builds an item-scoped error whose message is prefixed "Item #n: ".
func NewItemError(kind ErrorKind, position int, id ItemID, format string, args ...any) *ValidationError {
	msg := fmt.Sprintf("Item #%d: ", position) + fmt.Sprintf(format, args...)
	return &ValidationError{Kind: kind, ItemID: id, Position: position, Messages: []string{msg}}
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Messages[0])
}

func (e *ValidationError) Unwrap() error {
	return e.Kind.Sentinel()
}

// Result flattens the error into the ValidationResult shape.
func (e *ValidationError) Result() ValidationResult {
	return ValidationResult{IsValid: false, Errors: append([]string(nil), e.Messages...)}
}

// ValidationResult is the caller-facing summary of a validation pass.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// ResultOf converts any error returned by the engine into a ValidationResult.
func ResultOf(err error) ValidationResult {
	if err == nil {
		return ValidationResult{IsValid: true}
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Result()
	}
	return ValidationResult{IsValid: false, Errors: []string{err.Error()}}
}

// KindOf returns the validation kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind, true
	}
	return "", false
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-fetching and retrying might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStaleState)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	if _, ok := KindOf(err); ok {
		return true
	}
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsConflict returns true if the request changed underneath the caller
// or the transition is not legal from its current status.
func IsConflict(err error) bool {
	return IsRetryable(err) || errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateRequest) || errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound)
}
