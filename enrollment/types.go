/*
Package enrollment owns the enrollment lifecycle.

PURPOSE:
  An enrollment's status changes only through Machine.Transition, an explicit
  (state, event) -> state table with a guard per transition. The Service
  wraps it with store I/O and serializes concurrent transitions on the same
  enrollment through versioned compare-and-swap writes.

STATES:
  pending ──payment_confirmed──▶ confirmed ──complete──▶ completed (terminal)
                                    │  ▲
                       cancel ──────┤  ├── confirm_transfer / withdraw_transfer
                                    ▼  │
                               cancelled   transfer-pending ◀── request_transfer
                               (terminal)
                                    │
                   place_on_hold ───┴──▶ on-hold ──resume(new schedule)──▶ confirmed

GUARDS:
  payment_confirmed  gateway confirmation reference present
  complete           completion gate ready AND today >= schedule end day
  cancel             refund decision exists (not past start) AND
                     (cash-refund eligible OR credit terms acknowledged)
  resume             new future schedule of the same course
  request_transfer   different future schedule of the same course

SEE ALSO:
  - gate.go: CompletionGate (Assess)
  - machine.go: the transition table
  - service.go: persistence + retry
  - refund/decision.go: consulted on cancel
*/
package enrollment

import (
	"time"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/refund"
)

// =============================================================================
// STATUS & EVENTS
// =============================================================================

type Status string

const (
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusOnHold          Status = "on-hold"
	StatusTransferPending Status = "transfer-pending"
)

// AllStatuses lists every state, in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusCompleted,
	StatusCancelled, StatusOnHold, StatusTransferPending,
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Event string

const (
	EventPaymentConfirmed Event = "payment_confirmed"
	EventComplete         Event = "complete"
	EventCancel           Event = "cancel"
	EventPlaceOnHold      Event = "place_on_hold"
	EventResume           Event = "resume"
	EventRequestTransfer  Event = "request_transfer"
	EventConfirmTransfer  Event = "confirm_transfer"
	EventWithdrawTransfer Event = "withdraw_transfer"
)

var AllEvents = []Event{
	EventPaymentConfirmed, EventComplete, EventCancel, EventPlaceOnHold,
	EventResume, EventRequestTransfer, EventConfirmTransfer, EventWithdrawTransfer,
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// Schedule is a read-only course offering from the external catalog.
// StartsAt is authoritative for refund decisions, EndsAt for completion.
type Schedule struct {
	ID       generic.ScheduleID
	CourseID generic.CourseID
	StartsAt time.Time
	EndsAt   time.Time
	Price    generic.Money
}

// =============================================================================
// ENROLLMENT
// =============================================================================

type Enrollment struct {
	ID         generic.EnrollmentID
	StudentID  generic.UserID
	CourseID   generic.CourseID
	ScheduleID generic.ScheduleID // empty while on hold
	Status     Status

	AmountPaid generic.Money
	AmountDue  generic.Money

	// Deposit is pinned at creation from the refund policy in force then.
	Deposit generic.Money

	PaymentReference string

	// Cancellation is the refund decision recorded when cancelled.
	Cancellation *refund.Decision

	// HeldFromSchedule is the schedule released when placed on hold.
	HeldFromSchedule generic.ScheduleID

	// TransferTo is the requested schedule while transfer-pending.
	TransferTo generic.ScheduleID

	Version   generic.Version
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment returns the enrollment's payment snapshot for the completion gate.
func (e Enrollment) Payment() PaymentStatus {
	return PaymentStatus{AmountPaid: e.AmountPaid, AmountDue: e.AmountDue}
}
