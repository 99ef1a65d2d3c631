package refund

import (
	"errors"
	"fmt"
	"time"

	"github.com/warp/enrollment-engine/generic"
)

// ErrIneligiblePastStart: the class already started; there is nothing to
// cancel into. Callers must reject the cancellation outright.
var ErrIneligiblePastStart = errors.New("class already started")

// PastStartError is the rejection returned for daysUntilClass < 0.
type PastStartError struct {
	ClassStart     generic.TimePoint
	DaysUntilClass int
}

func (e *PastStartError) Error() string {
	return fmt.Sprintf("cancellation rejected: %s, class started %s (%d days ago)",
		TierIneligiblePastStart, e.ClassStart, -e.DaysUntilClass)
}

func (e *PastStartError) Unwrap() []error {
	return []error{ErrIneligiblePastStart, generic.ErrRejected}
}

// Decision is the refund/credit outcome of a cancellation request.
// RefundAmount and CreditAmount are mutually exclusive: at most one is non-zero.
type Decision struct {
	// Eligible means a cash refund. Credit tiers are not eligible.
	Eligible             bool
	Tier                 Tier
	DaysUntilClass       int
	RefundAmount         generic.Money
	CreditAmount         generic.Money
	ForfeitedDeposit     generic.Money
	FeeCoveredByPlatform bool

	// CreditExpiresAt is set for credit tiers only.
	CreditExpiresAt *generic.TimePoint
}

// Engine applies a Policy in the timezone of record.
type Engine struct {
	Policy   Policy
	Calendar generic.Calendar
}

func NewEngine(policy Policy, calendar generic.Calendar) *Engine {
	return &Engine{Policy: policy, Calendar: calendar}
}

// DaysUntilClass truncates both instants to calendar days before
// subtracting, so any request made on a given day counts that whole day.
func (e *Engine) DaysUntilClass(classStart, requestDate time.Time) int {
	return e.Calendar.DaysBetween(requestDate, classStart)
}

// Decide computes the decision. For a class that already started it returns
// a *PastStartError and no decision.
func (e *Engine) Decide(classStart, requestDate time.Time, amountPaid, deposit generic.Money) (*Decision, error) {
	if amountPaid.IsNegative() {
		return nil, fmt.Errorf("refund: amount paid %s is negative", amountPaid)
	}
	if amountPaid.Currency != deposit.Currency {
		return nil, &generic.CurrencyMismatchError{Left: amountPaid.Currency, Right: deposit.Currency}
	}

	days := e.DaysUntilClass(classStart, requestDate)
	tier := e.Policy.TierFor(days)
	zero := generic.Zero(amountPaid.Currency)

	d := &Decision{
		Tier:             tier,
		DaysUntilClass:   days,
		RefundAmount:     zero,
		CreditAmount:     zero,
		ForfeitedDeposit: zero,
	}

	switch tier {
	case TierFullRefund:
		d.Eligible = true
		d.RefundAmount = amountPaid
		d.FeeCoveredByPlatform = true
		return d, nil

	case TierFutureCreditFull:
		d.CreditAmount = amountPaid

	case TierFutureCreditPartial:
		forfeited, err := deposit.ClampZero().Min(amountPaid)
		if err != nil {
			return nil, err
		}
		credit, err := amountPaid.Sub(forfeited)
		if err != nil {
			return nil, err
		}
		d.CreditAmount = credit.ClampZero()
		d.ForfeitedDeposit = forfeited

	default:
		return nil, &PastStartError{ClassStart: e.Calendar.Day(classStart), DaysUntilClass: days}
	}

	expires := e.Calendar.Day(classStart).AddMonths(e.Policy.CreditValidityMonths)
	d.CreditExpiresAt = &expires
	return d, nil
}
