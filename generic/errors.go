/*
errors.go - Centralized error types for the policy engine

PURPOSE:
  All kernel error types in one place. Errors are categorized, never used for
  control flow by panicking. Domain packages (promo, refund, enrollment) define
  their own typed rejections and make them match ErrRejected so callers can
  classify any error without knowing which package produced it.

ERROR CATEGORIES:
  1. Rejection - expected and user-facing (expired code, past-start cancel,
     unmet transition guard). Safe to show to end users.
  2. Conflict - a concurrent writer won the race. Retryable once after re-fetch.
  3. Invariant violation - programmer error (currency mismatch, undefined
     transition, negative payable). Fatal to the operation, logged distinctly.
  4. Not found / bad input - outer-boundary errors surfaced by stores and DTOs.

USAGE:
  switch {
  case generic.IsRejection(err):          // 422, show message
  case generic.IsRetryable(err):          // 409, re-fetch and retry once
  case generic.IsInvariantViolation(err): // 500, log with category=invariant
  }

SEE ALSO:
  - promo/errors.go, refund/decision.go, enrollment/errors.go: domain rejections
  - api/errors.go: category to HTTP status mapping
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
	// ErrRejected marks every user-facing rejection. Domain error types
	// include it in their Unwrap chain.
	ErrRejected = errors.New("rejected")

	// ErrConcurrentModification is returned when optimistic versioning or a
	// row lock detects that another writer changed the entity first.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a redemption with the same
	// checkout key already exists. Expected on client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrNotFound is returned by stores when the entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCurrencyMismatch: arithmetic across two currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidPercent: percentage outside [0, 100].
	ErrInvalidPercent = errors.New("percent out of range")

	// ErrNegativePayable: a discount computation produced a negative payable amount.
	ErrNegativePayable = errors.New("negative payable amount")

	// ErrInvalidTransition: the transition table has no entry for (state, event).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrPrecisionLoss: an amount carries more precision than the minor unit.
	ErrPrecisionLoss = errors.New("amount exceeds minor-unit precision")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CurrencyMismatchError names both sides of a cross-currency operation.
type CurrencyMismatchError struct {
	Left  Currency
	Right Currency
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// PrecisionError is returned by ParseMoney for values like "1.005".
type PrecisionError struct {
	Value    string
	Currency Currency
}

func (e *PrecisionError) Error() string {
	return fmt.Sprintf("%s %s has more than %d decimal places", e.Value, e.Currency, MinorUnitDigits)
}

func (e *PrecisionError) Unwrap() error { return ErrPrecisionLoss }

// ConflictError reports a lost optimistic-concurrency race.
type ConflictError struct {
	Entity   string // "promo_code", "enrollment"
	ID       string
	Expected Version
	Actual   Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: expected version %d, found %d", e.Entity, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after re-fetching state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsRejection returns true for expected, user-facing policy rejections.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsInvariantViolation returns true for programmer errors that must never
// reach an end user.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInvalidPercent) ||
		errors.Is(err, ErrNegativePayable) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to malformed client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrPrecisionLoss) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
