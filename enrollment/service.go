/*
service.go - Persisted enrollment lifecycle

PURPOSE:
  Loads the enrollment and the reference data its guards need, runs
  Machine.Transition, and writes the result with a compare-and-swap on the
  version it loaded. Two concurrent transitions on one enrollment cannot
  both commit: the loser re-fetches, re-runs its guard against the new
  state (usually InvalidTransition now) and retries once.

SEE ALSO:
  - machine.go: the pure transition
  - store.go: UpdateEnrollment contract
*/
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/generic"
)

// CreateRequest opens a pending enrollment on a schedule.
type CreateRequest struct {
	StudentID  generic.UserID
	ScheduleID generic.ScheduleID
}

// EventRequest is a lifecycle event plus the snapshots its guard reads.
type EventRequest struct {
	Event                  Event
	PaymentConfirmation    string
	Forms                  FormStatus
	Waivers                WaiverStatus
	AcknowledgeCreditTerms bool
	NewScheduleID          generic.ScheduleID
}

type Service struct {
	Store     Store
	Schedules ScheduleStore
	Machine   *Machine
	Logger    *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func NewService(store Store, schedules ScheduleStore, machine *Machine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:     store,
		Schedules: schedules,
		Machine:   machine,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Create opens a pending enrollment. The amount due is the schedule price
// and the deposit is pinned from the refund policy in force now.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Enrollment, error) {
	if req.StudentID == "" {
		return nil, fmt.Errorf("student id is required")
	}
	sched, err := s.Schedules.GetSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	deposit, err := s.Machine.Refunds.Policy.DepositFor(sched.Price)
	if err != nil {
		s.logInvariant("pin deposit", err)
		return nil, err
	}

	now := s.Now()
	e := Enrollment{
		ID:         generic.EnrollmentID(uuid.NewString()),
		StudentID:  req.StudentID,
		CourseID:   sched.CourseID,
		ScheduleID: sched.ID,
		Status:     StatusPending,
		AmountPaid: generic.Zero(sched.Price.Currency),
		AmountDue:  sched.Price,
		Deposit:    deposit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Store.CreateEnrollment(ctx, e); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	s.Logger.Info("enrollment created",
		zap.String("enrollment_id", string(e.ID)),
		zap.String("schedule_id", string(e.ScheduleID)),
		zap.String("deposit", deposit.String()))
	return &e, nil
}

func (s *Service) Get(ctx context.Context, id generic.EnrollmentID) (*Enrollment, error) {
	return s.Store.GetEnrollment(ctx, id)
}

// Apply runs one lifecycle event. A conflict is retried once against the
// re-fetched enrollment; a second conflict is returned.
func (s *Service) Apply(ctx context.Context, id generic.EnrollmentID, req EventRequest) (*Enrollment, error) {
	e, err := s.applyOnce(ctx, id, req)
	if generic.IsRetryable(err) {
		s.logConflict(id, string(req.Event), err)
		e, err = s.applyOnce(ctx, id, req)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) applyOnce(ctx context.Context, id generic.EnrollmentID, req EventRequest) (*Enrollment, error) {
	current, err := s.Store.GetEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}

	in := Input{
		Now:                    s.Now(),
		PaymentConfirmation:    req.PaymentConfirmation,
		Forms:                  req.Forms,
		Waivers:                req.Waivers,
		AcknowledgeCreditTerms: req.AcknowledgeCreditTerms,
	}
	if current.ScheduleID != "" {
		if in.Schedule, err = s.Schedules.GetSchedule(ctx, current.ScheduleID); err != nil {
			return nil, fmt.Errorf("load schedule %s: %w", current.ScheduleID, err)
		}
	}
	target := req.NewScheduleID
	if target == "" && req.Event == EventConfirmTransfer {
		target = current.TransferTo
	}
	if target != "" {
		in.NewSchedule, err = s.Schedules.GetSchedule(ctx, target)
		if err != nil {
			return nil, err
		}
	}

	next, err := s.Machine.Transition(*current, req.Event, in)
	if err != nil {
		s.logRefusal(*current, req.Event, err)
		return nil, err
	}

	expected := current.Version
	if err := s.Store.UpdateEnrollment(ctx, next, expected); err != nil {
		return nil, err
	}
	next.Version = expected.Next()

	s.Logger.Info("enrollment transitioned",
		zap.String("enrollment_id", string(id)),
		zap.String("event", string(req.Event)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)))
	return &next, nil
}

// UpdateBalance records a payment-balance snapshot. It never changes status;
// the completion gate reads the balance on the next complete event.
func (s *Service) UpdateBalance(ctx context.Context, id generic.EnrollmentID, paid, due generic.Money) (*Enrollment, error) {
	if paid.IsNegative() || due.IsNegative() {
		return nil, fmt.Errorf("balance amounts must not be negative: paid %s, due %s", paid, due)
	}
	update := func() (*Enrollment, error) {
		e, err := s.Store.GetEnrollment(ctx, id)
		if err != nil {
			return nil, err
		}
		if paid.Currency != e.AmountDue.Currency || due.Currency != e.AmountDue.Currency {
			err := &generic.CurrencyMismatchError{Left: e.AmountDue.Currency, Right: paid.Currency}
			s.logInvariant("update balance", err)
			return nil, err
		}
		expected := e.Version
		e.AmountPaid = paid
		e.AmountDue = due
		e.UpdatedAt = s.Now()
		if err := s.Store.UpdateEnrollment(ctx, *e, expected); err != nil {
			return nil, err
		}
		e.Version = expected.Next()
		return e, nil
	}

	e, err := update()
	if generic.IsRetryable(err) {
		s.logConflict(id, "balance", err)
		e, err = update()
	}
	return e, err
}

// Gate assesses completion readiness using the stored payment balance.
func (s *Service) Gate(ctx context.Context, id generic.EnrollmentID, forms FormStatus, waivers WaiverStatus) (Verdict, error) {
	e, err := s.Store.GetEnrollment(ctx, id)
	if err != nil {
		return Verdict{}, err
	}
	return Assess(forms, waivers, e.Payment()), nil
}

func (s *Service) logRefusal(e Enrollment, event Event, err error) {
	switch {
	case generic.IsInvariantViolation(err):
		s.logInvariant("transition "+string(event), err)
	case generic.IsRejection(err):
		fields := []zap.Field{
			zap.String("category", "rejection"),
			zap.String("enrollment_id", string(e.ID)),
			zap.String("status", string(e.Status)),
			zap.String("event", string(event)),
			zap.Error(err),
		}
		var gate *GateNotSatisfiedError
		if errors.As(err, &gate) {
			blockers := make([]string, len(gate.Blockers))
			for i, b := range gate.Blockers {
				blockers[i] = string(b)
			}
			fields = append(fields, zap.Strings("blockers", blockers))
		}
		s.Logger.Info("transition refused", fields...)
	}
}

func (s *Service) logConflict(id generic.EnrollmentID, op string, err error) {
	s.Logger.Warn("enrollment conflict, retrying",
		zap.String("category", "conflict"),
		zap.String("enrollment_id", string(id)),
		zap.String("op", op),
		zap.Error(err))
}

func (s *Service) logInvariant(op string, err error) {
	s.Logger.Error("invariant violation",
		zap.String("category", "invariant"),
		zap.String("op", op),
		zap.Error(err))
}
