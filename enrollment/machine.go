package enrollment

import (
	"fmt"
	"time"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/refund"
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

type edge struct {
	from  Status
	event Event
}

// guard checks a transition and applies its side data to next.
type guard func(m *Machine, current Enrollment, next *Enrollment, in Input) error

type rule struct {
	to    Status
	guard guard
}

// transitions is the complete lifecycle. Any pair missing here is invalid.
var transitions = map[edge]rule{
	{StatusPending, EventPaymentConfirmed}:         {StatusConfirmed, guardPaymentConfirmed},
	{StatusConfirmed, EventComplete}:               {StatusCompleted, guardComplete},
	{StatusConfirmed, EventCancel}:                 {StatusCancelled, guardCancel},
	{StatusConfirmed, EventPlaceOnHold}:            {StatusOnHold, guardPlaceOnHold},
	{StatusConfirmed, EventRequestTransfer}:        {StatusTransferPending, guardRequestTransfer},
	{StatusOnHold, EventResume}:                    {StatusConfirmed, guardResume},
	{StatusTransferPending, EventConfirmTransfer}:  {StatusConfirmed, guardConfirmTransfer},
	{StatusTransferPending, EventWithdrawTransfer}: {StatusConfirmed, guardWithdrawTransfer},
}

// Allowed reports whether (from, event) has an entry in the table, ignoring guards.
func Allowed(from Status, event Event) bool {
	_, ok := transitions[edge{from, event}]
	return ok
}

// Target returns the destination state of (from, event).
func Target(from Status, event Event) (Status, bool) {
	r, ok := transitions[edge{from, event}]
	return r.to, ok
}

// =============================================================================
// INPUT
// =============================================================================

// Input is everything a guard may look at besides the enrollment itself.
// Snapshots are fetched by the caller; the machine performs no I/O.
type Input struct {
	Now time.Time

	// Schedule is the enrollment's current schedule.
	Schedule *Schedule

	// PaymentConfirmation is the gateway reference for payment_confirmed.
	PaymentConfirmation string

	Forms   FormStatus
	Waivers WaiverStatus

	// AcknowledgeCreditTerms accepts a credit-only cancellation.
	AcknowledgeCreditTerms bool

	// NewSchedule is the target of resume or request_transfer, and the
	// pending transfer target for confirm_transfer.
	NewSchedule *Schedule
}

// =============================================================================
// MACHINE
// =============================================================================

type Machine struct {
	Refunds  *refund.Engine
	Calendar generic.Calendar
}

func NewMachine(refunds *refund.Engine, calendar generic.Calendar) *Machine {
	return &Machine{Refunds: refunds, Calendar: calendar}
}

// Transition returns the enrollment after applying event, or the reason it
// cannot be applied. It never mutates e and never touches Version; the
// caller persists the result with a compare-and-swap on e.Version.
func (m *Machine) Transition(e Enrollment, event Event, in Input) (Enrollment, error) {
	r, ok := transitions[edge{e.Status, event}]
	if !ok {
		return Enrollment{}, &InvalidTransitionError{From: e.Status, Event: event}
	}

	next := e
	if err := r.guard(m, e, &next, in); err != nil {
		return Enrollment{}, err
	}
	next.Status = r.to
	next.UpdatedAt = in.Now
	return next, nil
}

func (m *Machine) today(now time.Time) generic.TimePoint {
	return m.Calendar.Day(now)
}

func rejectGuard(e Enrollment, event Event, sentinel error, detail string) error {
	return &GuardError{From: e.Status, Event: event, Guard: sentinel, Detail: detail}
}

// =============================================================================
// GUARDS
// =============================================================================

func guardPaymentConfirmed(_ *Machine, e Enrollment, next *Enrollment, in Input) error {
	if in.PaymentConfirmation == "" {
		return rejectGuard(e, EventPaymentConfirmed, ErrPaymentNotConfirmed, "")
	}
	next.PaymentReference = in.PaymentConfirmation
	return nil
}

// guardComplete checks the gate before the date so a student who is both
// early and missing a waiver is told about the waiver.
func guardComplete(m *Machine, e Enrollment, _ *Enrollment, in Input) error {
	if in.Schedule == nil {
		return rejectGuard(e, EventComplete, ErrScheduleRequired, "")
	}
	verdict := Assess(in.Forms, in.Waivers, e.Payment())
	if !verdict.Ready {
		return &GateNotSatisfiedError{Blockers: verdict.Blockers}
	}
	end := m.today(in.Schedule.EndsAt)
	if m.today(in.Now).Before(end) {
		return rejectGuard(e, EventComplete, ErrCourseNotYetFinished, "ends "+end.String())
	}
	return nil
}

func guardCancel(m *Machine, e Enrollment, next *Enrollment, in Input) error {
	if in.Schedule == nil {
		return rejectGuard(e, EventCancel, ErrScheduleRequired, "")
	}
	if m.Refunds == nil {
		return fmt.Errorf("enrollment: cancel requires a refund engine")
	}
	decision, err := m.Refunds.Decide(in.Schedule.StartsAt, in.Now, e.AmountPaid, e.Deposit)
	if err != nil {
		return err
	}
	if !decision.Eligible && !in.AcknowledgeCreditTerms {
		return &CreditTermsError{Decision: *decision}
	}
	next.Cancellation = decision
	return nil
}

func guardPlaceOnHold(_ *Machine, _ Enrollment, next *Enrollment, _ Input) error {
	next.HeldFromSchedule = next.ScheduleID
	next.ScheduleID = ""
	return nil
}

func guardResume(m *Machine, e Enrollment, next *Enrollment, in Input) error {
	if err := m.checkFutureSchedule(e, EventResume, in); err != nil {
		return err
	}
	if in.NewSchedule.ID == e.HeldFromSchedule {
		return rejectGuard(e, EventResume, ErrInvalidSchedule, "resume needs a schedule other than "+string(e.HeldFromSchedule))
	}
	next.ScheduleID = in.NewSchedule.ID
	next.HeldFromSchedule = ""
	return nil
}

func guardRequestTransfer(m *Machine, e Enrollment, next *Enrollment, in Input) error {
	if err := m.checkFutureSchedule(e, EventRequestTransfer, in); err != nil {
		return err
	}
	if in.NewSchedule.ID == e.ScheduleID {
		return rejectGuard(e, EventRequestTransfer, ErrInvalidSchedule, "already enrolled in "+string(e.ScheduleID))
	}
	next.TransferTo = in.NewSchedule.ID
	return nil
}

// guardConfirmTransfer re-checks the target: it may have started since the request.
func guardConfirmTransfer(m *Machine, e Enrollment, next *Enrollment, in Input) error {
	if e.TransferTo == "" {
		return rejectGuard(e, EventConfirmTransfer, ErrScheduleRequired, "no transfer requested")
	}
	if in.NewSchedule != nil && in.NewSchedule.ID != e.TransferTo {
		return rejectGuard(e, EventConfirmTransfer, ErrInvalidSchedule,
			fmt.Sprintf("transfer pending to %s, not %s", e.TransferTo, in.NewSchedule.ID))
	}
	if err := m.checkFutureSchedule(e, EventConfirmTransfer, in); err != nil {
		return err
	}
	next.ScheduleID = e.TransferTo
	next.TransferTo = ""
	return nil
}

func guardWithdrawTransfer(_ *Machine, _ Enrollment, next *Enrollment, _ Input) error {
	next.TransferTo = ""
	return nil
}

// checkFutureSchedule: a schedule of the same course that starts after today.
func (m *Machine) checkFutureSchedule(e Enrollment, event Event, in Input) error {
	s := in.NewSchedule
	if s == nil {
		return rejectGuard(e, event, ErrScheduleRequired, "")
	}
	if s.CourseID != e.CourseID {
		return rejectGuard(e, event, ErrInvalidSchedule,
			fmt.Sprintf("schedule %s is for course %s, not %s", s.ID, s.CourseID, e.CourseID))
	}
	if !m.today(s.StartsAt).After(m.today(in.Now)) {
		return rejectGuard(e, event, ErrInvalidSchedule,
			fmt.Sprintf("schedule %s starts %s, not in the future", s.ID, m.today(s.StartsAt)))
	}
	return nil
}
