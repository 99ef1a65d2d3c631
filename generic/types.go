/*
Package generic provides the domain-agnostic kernel of the enrollment commerce engine.

PURPOSE:
  This package contains the value types and plumbing that every policy package
  builds on: fixed-point money, calendar-day time, the error taxonomy, the
  append-only redemption ledger and the versioned-store contracts. It knows
  nothing about promo codes, refunds or enrollments.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: integer minor units plus a currency code
  - Currency: ISO-4217 code; one per deployment (multi-currency is out of scope)
  - MultiplyByPercent: the only division in the system, always round-half-up

DESIGN PRINCIPLES:
  1. Precision: money is int64 cents; decimal.Decimal is used only for the
     intermediate percentage product, never stored
  2. Explicit rounding: every division names its rounding mode
  3. Currency safety: arithmetic across currencies fails with ErrCurrencyMismatch
  4. No silent truncation: ParseMoney rejects sub-cent precision

USAGE:
  price := generic.MustParseMoney("100.00", generic.USD)
  off, err := price.MultiplyByPercent(decimal.NewFromInt(20)) // 20.00 USD
  payable, err := price.Sub(off)                             // 80.00 USD

SEE ALSO:
  - errors.go: ErrCurrencyMismatch, ErrInvalidPercent
  - time.go: calendar-day arithmetic used by refund decisions
  - ledger.go: redemption records carrying Money
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point amount in minor units
// =============================================================================

// Currency is an ISO-4217 currency code.
type Currency string

const USD Currency = "USD"

// MinorUnitDigits is the number of decimal digits held in Money.Minor.
const MinorUnitDigits = 2

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)
)

// Money is an amount of a single currency held as integer minor units.
type Money struct {
	Minor    int64
	Currency Currency
}

func NewMoney(minor int64, currency Currency) Money {
	return Money{Minor: minor, Currency: currency}
}

func Zero(currency Currency) Money { return Money{Currency: currency} }

// ParseMoney parses a major-unit decimal string such as "149.99".
// Values with more precision than the minor unit are rejected, not rounded.
func ParseMoney(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parse money %q: %w", s, err)
	}
	return FromDecimal(d, currency)
}

// FromDecimal converts a major-unit decimal into Money.
func FromDecimal(d decimal.Decimal, currency Currency) (Money, error) {
	shifted := d.Shift(MinorUnitDigits)
	if !shifted.Equal(shifted.Truncate(0)) {
		return Money{}, &PrecisionError{Value: d.String(), Currency: currency}
	}
	return Money{Minor: shifted.IntPart(), Currency: currency}, nil
}

// MustParseMoney is ParseMoney for literals known to be valid. It panics otherwise.
func MustParseMoney(s string, currency Currency) Money {
	m, err := ParseMoney(s, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Minor: m.Minor + o.Minor, Currency: m.Currency}, nil
}

// Sub may return a negative amount. Callers must clamp before using the
// result as a charge or refund.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Minor: m.Minor - o.Minor, Currency: m.Currency}, nil
}

// MultiplyByPercent returns m × p / 100 rounded half-up to the minor unit.
// p must be within [0, 100].
func (m Money) MultiplyByPercent(p decimal.Decimal) (Money, error) {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidPercent, p.String())
	}
	product := decimal.NewFromInt(m.Minor).Mul(p).Div(hundred)
	return Money{Minor: product.Add(half).Floor().IntPart(), Currency: m.Currency}, nil
}

// Cmp compares two amounts of the same currency: -1, 0 or +1.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	switch {
	case m.Minor < o.Minor:
		return -1, nil
	case m.Minor > o.Minor:
		return 1, nil
	}
	return 0, nil
}

func (m Money) Min(o Money) (Money, error) {
	c, err := m.Cmp(o)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return m, nil
	}
	return o, nil
}

func (m Money) Max(o Money) (Money, error) {
	c, err := m.Cmp(o)
	if err != nil {
		return Money{}, err
	}
	if c >= 0 {
		return m, nil
	}
	return o, nil
}

func (m Money) LessThan(o Money) (bool, error) {
	c, err := m.Cmp(o)
	return c < 0, err
}

func (m Money) GreaterThan(o Money) (bool, error) {
	c, err := m.Cmp(o)
	return c > 0, err
}

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }
func (m Money) IsPositive() bool { return m.Minor > 0 }

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.Minor < 0 {
		return Money{Currency: m.Currency}
	}
	return m
}

// Times multiplies by an integer quantity (line totals).
func (m Money) Times(qty int) Money {
	return Money{Minor: m.Minor * int64(qty), Currency: m.Currency}
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -MinorUnitDigits)
}

// Amount is the major-unit string form, e.g. "80.00".
func (m Money) Amount() string {
	return m.Decimal().StringFixed(MinorUnitDigits)
}

func (m Money) String() string {
	return m.Amount() + " " + string(m.Currency)
}

func (m Money) sameCurrency(o Money) error {
	if m.Currency != o.Currency {
		return &CurrencyMismatchError{Left: m.Currency, Right: o.Currency}
	}
	return nil
}

// Sum adds amounts that must all share currency. An empty sum is zero of currency.
func Sum(currency Currency, amounts ...Money) (Money, error) {
	total := Zero(currency)
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type CourseID string
type CategoryID string
type ScheduleID string
type EnrollmentID string
type RedemptionID string
