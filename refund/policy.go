/*
Package refund decides what a student gets back when cancelling an enrollment.

PURPOSE:
  Given the class start date, the date of the cancellation request, what the
  student paid and the deposit pinned at enrollment, the Engine picks exactly
  one tier and computes the cash refund or future-course credit.

TIERS (daysUntilClass, calendar days in the timezone of record):
  > 21        FULL_REFUND            refund = paid, platform covers the fee
  14 .. 21    FUTURE_CREDIT_FULL     credit = paid
  0 .. 13     FUTURE_CREDIT_PARTIAL  credit = paid - deposit, floored at zero
  < 0         INELIGIBLE_PAST_START  rejected: no decision is produced

  The boundaries are carried in Policy so they can be configured, but the
  defaults above are the product rules and are pinned by tests.

CREDIT EXPIRY:
  Credits are valid for CreditValidityMonths after the ORIGINAL class date,
  not the cancellation date. The expiry travels with the decision; an
  external ledger enforces it.

SEE ALSO:
  - decision.go: Engine.Decide
  - factory/policy.go: JSON policy loading
  - enrollment/machine.go: consults Decide before allowing "cancelled"
*/
package refund

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/enrollment-engine/generic"
)

// =============================================================================
// TIERS
// =============================================================================

type Tier string

const (
	TierFullRefund          Tier = "FULL_REFUND"
	TierFutureCreditFull    Tier = "FUTURE_CREDIT_FULL"
	TierFutureCreditPartial Tier = "FUTURE_CREDIT_PARTIAL"
	TierIneligiblePastStart Tier = "INELIGIBLE_PAST_START"
)

// =============================================================================
// DEPOSIT RULE
// =============================================================================

type DepositKind string

const (
	DepositFlat    DepositKind = "flat"
	DepositPercent DepositKind = "percent"
	DepositNone    DepositKind = "none"
)

// DepositRule is how the non-refundable deposit is derived at enrollment.
type DepositRule struct {
	Kind    DepositKind
	Flat    generic.Money
	Percent decimal.Decimal
}

// =============================================================================
// POLICY
// =============================================================================

type Policy struct {
	// FullRefundAfterDays: strictly more days than this earns a cash refund.
	FullRefundAfterDays int

	// FullCreditFromDays: at least this many days (and not a full refund)
	// earns a full future credit.
	FullCreditFromDays int

	CreditValidityMonths int

	Deposit DepositRule
}

// DefaultPolicy is the published cancellation policy.
func DefaultPolicy(currency generic.Currency) Policy {
	return Policy{
		FullRefundAfterDays:  21,
		FullCreditFromDays:   14,
		CreditValidityMonths: 12,
		Deposit:              DepositRule{Kind: DepositNone, Flat: generic.Zero(currency)},
	}
}

func (p Policy) Validate() error {
	if p.FullCreditFromDays < 0 {
		return fmt.Errorf("refund policy: full credit threshold %d is negative", p.FullCreditFromDays)
	}
	if p.FullRefundAfterDays < p.FullCreditFromDays {
		return fmt.Errorf("refund policy: full refund threshold %d below full credit threshold %d",
			p.FullRefundAfterDays, p.FullCreditFromDays)
	}
	if p.CreditValidityMonths <= 0 {
		return fmt.Errorf("refund policy: credit validity must be positive, got %d", p.CreditValidityMonths)
	}
	switch p.Deposit.Kind {
	case DepositNone:
	case DepositFlat:
		if p.Deposit.Flat.IsNegative() {
			return fmt.Errorf("refund policy: flat deposit is negative")
		}
	case DepositPercent:
		if p.Deposit.Percent.IsNegative() || p.Deposit.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("refund policy: %w: deposit %s", generic.ErrInvalidPercent, p.Deposit.Percent)
		}
	default:
		return fmt.Errorf("refund policy: unknown deposit kind %q", p.Deposit.Kind)
	}
	return nil
}

// TierFor maps any integer day count to exactly one tier.
func (p Policy) TierFor(daysUntilClass int) Tier {
	switch {
	case daysUntilClass > p.FullRefundAfterDays:
		return TierFullRefund
	case daysUntilClass >= p.FullCreditFromDays:
		return TierFutureCreditFull
	case daysUntilClass >= 0:
		return TierFutureCreditPartial
	default:
		return TierIneligiblePastStart
	}
}

// DepositFor computes the deposit to pin on an enrollment at creation time.
func (p Policy) DepositFor(coursePrice generic.Money) (generic.Money, error) {
	switch p.Deposit.Kind {
	case DepositFlat:
		if p.Deposit.Flat.Currency != coursePrice.Currency {
			return generic.Money{}, &generic.CurrencyMismatchError{Left: p.Deposit.Flat.Currency, Right: coursePrice.Currency}
		}
		return p.Deposit.Flat, nil
	case DepositPercent:
		return coursePrice.MultiplyByPercent(p.Deposit.Percent)
	default:
		return generic.Zero(coursePrice.Currency), nil
	}
}
