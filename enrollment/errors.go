package enrollment

import (
	"errors"
	"fmt"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/refund"
)

// =============================================================================
// SENTINEL ERRORS - one per guard
// =============================================================================

var (
	ErrPaymentNotConfirmed        = errors.New("payment not confirmed")
	ErrGateNotSatisfied           = errors.New("completion gate not satisfied")
	ErrCourseNotYetFinished       = errors.New("course not yet finished")
	ErrCreditTermsNotAcknowledged = errors.New("credit-only terms not acknowledged")
	ErrScheduleRequired           = errors.New("a schedule is required")
	ErrInvalidSchedule            = errors.New("schedule not valid for this enrollment")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// GuardError is a transition refused by its guard. It is a user-facing
// rejection and matches both its guard sentinel and generic.ErrRejected.
type GuardError struct {
	From   Status
	Event  Event
	Guard  error
	Detail string
}

func (e *GuardError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s on %s: %v", e.Event, e.From, e.Guard)
	}
	return fmt.Sprintf("%s on %s: %v: %s", e.Event, e.From, e.Guard, e.Detail)
}

func (e *GuardError) Unwrap() []error { return []error{e.Guard, generic.ErrRejected} }

// GateNotSatisfiedError carries the blockers that kept completion closed.
type GateNotSatisfiedError struct {
	Blockers []Blocker
}

func (e *GateNotSatisfiedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrGateNotSatisfied, e.Blockers)
}

func (e *GateNotSatisfiedError) Unwrap() []error {
	return []error{ErrGateNotSatisfied, generic.ErrRejected}
}

// CreditTermsError is returned when a credit-only cancellation was not
// acknowledged. It carries the decision so the caller can show the terms.
type CreditTermsError struct {
	Decision refund.Decision
}

func (e *CreditTermsError) Error() string {
	return fmt.Sprintf("%v: %s credit %s", ErrCreditTermsNotAcknowledged, e.Decision.Tier, e.Decision.CreditAmount)
}

func (e *CreditTermsError) Unwrap() []error {
	return []error{ErrCreditTermsNotAcknowledged, generic.ErrRejected}
}

// InvalidTransitionError: the table has no entry for (From, Event).
// Includes every event on a terminal state.
type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s on %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return generic.ErrInvalidTransition }
