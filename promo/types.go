/*
Package promo decides how much a promo code discounts a cart.

PURPOSE:
  Given a cart and a candidate code, the Evaluator either returns the discount
  the code grants or rejects it with a deterministic reason. Evaluation is a
  pure function of (code definition, cart, redemption history, today); it is
  safe to call on every cart recalculation because it never consumes a use.
  Uses are consumed only by Service.Checkout.

KEY CONCEPTS:
  - PromoCode: the code definition plus its versioned use counter
  - Scope: which cart lines a code may discount (global, courses, categories)
  - EffectiveStatus: persisted status overlaid by the date window
  - Discount: the evaluated amount and the base it was computed on
  - Combine: stacking of several evaluated discounts on one cart

REJECTION ORDER (first failing check wins):
  NotFound, NotYetActive, Expired, Paused, TotalUsesExceeded,
  PerUserUsesExceeded, BelowMinimumSubtotal, ScopeMismatch,
  FirstPurchaseRequired, NewCustomerRequired

EXAMPLE:
  ev := promo.NewEvaluator(promo.NewCatalog(save20), generic.UTCCalendar())
  d, err := ev.Evaluate("save20", cart, history, time.Now())
  if reason, ok := promo.ReasonOf(err); ok {
      // show reason.Message() to the customer
  }

SEE ALSO:
  - evaluator.go: the ordered checks and discount computation
  - stacking.go: EXCLUSIVE vs STACKABLE combination
  - redeem.go: atomic use-count increment at checkout
*/
package promo

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/enrollment-engine/generic"
)

// =============================================================================
// ENUMS
// =============================================================================

type DiscountType string

const (
	TypePercent     DiscountType = "PERCENT"
	TypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "GLOBAL"
	ScopeCourses    ScopeKind = "COURSES"
	ScopeCategories ScopeKind = "CATEGORIES"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusScheduled Status = "SCHEDULED"
	StatusPaused    Status = "PAUSED"
	StatusExpired   Status = "EXPIRED"
)

type StackingPolicy string

const (
	StackingExclusive StackingPolicy = "EXCLUSIVE"
	StackingStackable StackingPolicy = "STACKABLE"
)

// =============================================================================
// SCOPE
// =============================================================================

// Scope selects the cart lines a code may discount.
type Scope struct {
	Kind       ScopeKind
	Courses    []generic.CourseID
	Categories []generic.CategoryID
}

func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

// Matches reports whether line is discountable under this scope.
func (s Scope) Matches(line CartLine) bool {
	switch s.Kind {
	case ScopeCourses:
		for _, id := range s.Courses {
			if id == line.CourseID {
				return true
			}
		}
		return false
	case ScopeCategories:
		for _, want := range s.Categories {
			for _, have := range line.CategoryIDs {
				if want == have {
					return true
				}
			}
		}
		return false
	default:
		return true
	}
}

// =============================================================================
// PROMO CODE
// =============================================================================

// PromoCode is a discount definition. Code is stored normalized (see
// NormalizeCode). Percent is used for TypePercent, Amount for TypeFixedAmount.
type PromoCode struct {
	Code     string
	Type     DiscountType
	Percent  decimal.Decimal
	Amount   generic.Money
	Scope    Scope
	Status   Status
	Stacking StackingPolicy

	// Inclusive validity window, calendar days in the timezone of record.
	StartDate *generic.TimePoint
	EndDate   *generic.TimePoint

	MaxTotalUses    *int
	MaxUsesPerUser  *int
	MinCartSubtotal *generic.Money

	ApplyToTax        bool
	ApplyToShipping   bool
	FirstPurchaseOnly bool
	NewCustomersOnly  bool

	// Uses is the current use count and the entity's concurrency token.
	Uses generic.Counter

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCode makes codes case-insensitive: trimmed, upper-case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a definition before it is persisted.
func (p PromoCode) Validate() error {
	if p.Code == "" || p.Code != NormalizeCode(p.Code) {
		return fmt.Errorf("promo code %q must be non-empty and normalized", p.Code)
	}
	switch p.Type {
	case TypePercent:
		if p.Percent.IsNegative() || p.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("promo code %s: %w: %s", p.Code, generic.ErrInvalidPercent, p.Percent)
		}
	case TypeFixedAmount:
		if !p.Amount.IsPositive() {
			return fmt.Errorf("promo code %s: fixed amount must be positive", p.Code)
		}
	default:
		return fmt.Errorf("promo code %s: unknown type %q", p.Code, p.Type)
	}
	switch p.Scope.Kind {
	case ScopeGlobal:
	case ScopeCourses:
		if len(p.Scope.Courses) == 0 {
			return fmt.Errorf("promo code %s: COURSES scope needs at least one course", p.Code)
		}
	case ScopeCategories:
		if len(p.Scope.Categories) == 0 {
			return fmt.Errorf("promo code %s: CATEGORIES scope needs at least one category", p.Code)
		}
	default:
		return fmt.Errorf("promo code %s: unknown scope %q", p.Code, p.Scope.Kind)
	}
	switch p.Status {
	case StatusActive, StatusScheduled, StatusPaused, StatusExpired:
	default:
		return fmt.Errorf("promo code %s: unknown status %q", p.Code, p.Status)
	}
	switch p.Stacking {
	case StackingExclusive, StackingStackable:
	default:
		return fmt.Errorf("promo code %s: unknown stacking policy %q", p.Code, p.Stacking)
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return fmt.Errorf("promo code %s: end date %s before start date %s", p.Code, p.EndDate, p.StartDate)
	}
	return nil
}

// =============================================================================
// CART
// =============================================================================

type CartLine struct {
	CourseID    generic.CourseID
	CategoryIDs []generic.CategoryID
	UnitPrice   generic.Money
	Quantity    int
}

func (l CartLine) Total() generic.Money { return l.UnitPrice.Times(l.Quantity) }

type Customer struct {
	UserID          generic.UserID
	IsFirstPurchase bool
	IsNewCustomer   bool
}

// Cart is an ordered sequence of lines. The subtotal is derived from the
// lines so it can never disagree with them.
type Cart struct {
	Currency generic.Currency
	Lines    []CartLine
	Tax      generic.Money
	Shipping generic.Money
	Customer Customer
}

func (c Cart) Subtotal() (generic.Money, error) {
	total := generic.Zero(c.Currency)
	for _, l := range c.Lines {
		var err error
		if total, err = total.Add(l.Total()); err != nil {
			return generic.Money{}, err
		}
	}
	return total, nil
}

// Total is subtotal + tax + shipping, before discounts.
func (c Cart) Total() (generic.Money, error) {
	sub, err := c.Subtotal()
	if err != nil {
		return generic.Money{}, err
	}
	return generic.Sum(c.Currency, sub, c.moneyOrZero(c.Tax), c.moneyOrZero(c.Shipping))
}

// moneyOrZero treats an unset amount as zero of the cart currency.
func (c Cart) moneyOrZero(m generic.Money) generic.Money {
	if m.Currency == "" && m.Minor == 0 {
		return generic.Zero(c.Currency)
	}
	return m
}
