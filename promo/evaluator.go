package promo

import (
	"time"

	"github.com/warp/enrollment-engine/generic"
)

// =============================================================================
// CATALOG - Read-only code lookup
// =============================================================================

// Catalog resolves a normalized code to its definition.
type Catalog interface {
	Lookup(code string) (PromoCode, bool)
}

// MapCatalog is an in-memory Catalog keyed by normalized code.
type MapCatalog map[string]PromoCode

func NewCatalog(codes ...PromoCode) MapCatalog {
	c := make(MapCatalog, len(codes))
	for _, pc := range codes {
		c[NormalizeCode(pc.Code)] = pc
	}
	return c
}

func (c MapCatalog) Lookup(code string) (PromoCode, bool) {
	pc, ok := c[NormalizeCode(code)]
	return pc, ok
}

// =============================================================================
// EFFECTIVE STATUS
// =============================================================================

// EffectiveStatus overlays the date window on the persisted status. The
// window always wins: an ACTIVE code before its start date is SCHEDULED, and
// any code past its end date is EXPIRED. A persisted SCHEDULED code without a
// start date stays SCHEDULED because nothing would ever activate it.
// The persisted value is never modified.
func EffectiveStatus(pc PromoCode, today generic.TimePoint) Status {
	if pc.StartDate != nil && today.Before(*pc.StartDate) {
		return StatusScheduled
	}
	if pc.EndDate != nil && today.After(*pc.EndDate) {
		return StatusExpired
	}
	switch pc.Status {
	case StatusExpired, StatusPaused:
		return pc.Status
	case StatusScheduled:
		if pc.StartDate == nil {
			return StatusScheduled
		}
	}
	return StatusActive
}

// =============================================================================
// DISCOUNT
// =============================================================================

// Discount is the result of a successful evaluation.
type Discount struct {
	Code     string
	Type     DiscountType
	Stacking StackingPolicy

	// Amount is what this code takes off. Never exceeds Base.
	Amount generic.Money

	// Base is the discountable amount: in-scope lines, plus tax and shipping
	// when the code applies to them.
	Base             generic.Money
	Lines            []int // indexes of in-scope cart lines
	IncludesTax      bool
	IncludesShipping bool

	// Payable is the cart total after this discount alone.
	Payable generic.Money

	// OverDiscount is set when the code's face value exceeded Base and
	// Amount was clamped to it.
	OverDiscount bool
}

// =============================================================================
// EVALUATOR
// =============================================================================

type Evaluator struct {
	Catalog  Catalog
	Calendar generic.Calendar
}

func NewEvaluator(catalog Catalog, calendar generic.Calendar) *Evaluator {
	return &Evaluator{Catalog: catalog, Calendar: calendar}
}

// Evaluate looks up code and evaluates it against cart. It is side-effect
// free: calling it any number of times never changes a use count.
//
// Returns a *RejectionError for expected refusals, or an invariant error
// (currency mismatch, negative payable) for malformed inputs.
func (e *Evaluator) Evaluate(code string, cart Cart, history generic.RedemptionHistory, now time.Time) (Discount, error) {
	normalized := NormalizeCode(code)
	pc, ok := e.Catalog.Lookup(normalized)
	if !ok {
		return Discount{}, reject(normalized, ReasonNotFound)
	}
	return EvaluateCode(pc, cart, history, e.Calendar.Day(now))
}

// EvaluateCode runs every check after lookup, in the fixed rejection order,
// then computes the discount.
func EvaluateCode(pc PromoCode, cart Cart, history generic.RedemptionHistory, today generic.TimePoint) (Discount, error) {
	switch EffectiveStatus(pc, today) {
	case StatusScheduled:
		return Discount{}, reject(pc.Code, ReasonNotYetActive)
	case StatusExpired:
		return Discount{}, reject(pc.Code, ReasonExpired)
	case StatusPaused:
		return Discount{}, reject(pc.Code, ReasonPaused)
	}

	if pc.Uses.Reached(pc.MaxTotalUses) {
		return Discount{}, reject(pc.Code, ReasonTotalUsesExceeded)
	}
	if pc.MaxUsesPerUser != nil && history.UsesBy(cart.Customer.UserID) >= *pc.MaxUsesPerUser {
		return Discount{}, reject(pc.Code, ReasonPerUserUsesExceeded)
	}

	subtotal, err := cart.Subtotal()
	if err != nil {
		return Discount{}, err
	}
	if pc.MinCartSubtotal != nil {
		below, err := subtotal.LessThan(*pc.MinCartSubtotal)
		if err != nil {
			return Discount{}, err
		}
		if below {
			return Discount{}, reject(pc.Code, ReasonBelowMinimumSubtotal)
		}
	}

	lines := inScopeLines(pc.Scope, cart)
	if len(lines) == 0 {
		return Discount{}, reject(pc.Code, ReasonScopeMismatch)
	}

	if pc.FirstPurchaseOnly && !cart.Customer.IsFirstPurchase {
		return Discount{}, reject(pc.Code, ReasonFirstPurchaseRequired)
	}
	if pc.NewCustomersOnly && !cart.Customer.IsNewCustomer {
		return Discount{}, reject(pc.Code, ReasonNewCustomerRequired)
	}

	return computeDiscount(pc, cart, lines)
}

func inScopeLines(scope Scope, cart Cart) []int {
	var idx []int
	for i, l := range cart.Lines {
		if scope.Matches(l) {
			idx = append(idx, i)
		}
	}
	return idx
}

func computeDiscount(pc PromoCode, cart Cart, lines []int) (Discount, error) {
	base, err := discountBase(cart, lines, pc.ApplyToTax, pc.ApplyToShipping)
	if err != nil {
		return Discount{}, err
	}

	var amount generic.Money
	var over bool
	switch pc.Type {
	case TypePercent:
		amount, err = base.MultiplyByPercent(pc.Percent)
	case TypeFixedAmount:
		if over, err = pc.Amount.GreaterThan(base); err == nil {
			amount, err = pc.Amount.Min(base)
		}
	}
	if err != nil {
		return Discount{}, err
	}

	total, err := cart.Total()
	if err != nil {
		return Discount{}, err
	}
	payable, err := total.Sub(amount)
	if err != nil {
		return Discount{}, err
	}
	if payable.IsNegative() {
		return Discount{}, generic.ErrNegativePayable
	}

	return Discount{
		Code:             pc.Code,
		Type:             pc.Type,
		Stacking:         pc.Stacking,
		Amount:           amount,
		Base:             base,
		Lines:            lines,
		IncludesTax:      pc.ApplyToTax,
		IncludesShipping: pc.ApplyToShipping,
		Payable:          payable,
		OverDiscount:     over,
	}, nil
}

// discountBase sums the selected lines plus optional tax and shipping.
func discountBase(cart Cart, lines []int, withTax, withShipping bool) (generic.Money, error) {
	parts := make([]generic.Money, 0, len(lines)+2)
	for _, i := range lines {
		parts = append(parts, cart.Lines[i].Total())
	}
	if withTax {
		parts = append(parts, cart.moneyOrZero(cart.Tax))
	}
	if withShipping {
		parts = append(parts, cart.moneyOrZero(cart.Shipping))
	}
	return generic.Sum(cart.Currency, parts...)
}
