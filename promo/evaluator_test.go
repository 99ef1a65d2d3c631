package promo_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	today    = generic.NewTimePoint(2025, time.March, 10)
	now      = time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC)
	calendar = generic.UTCCalendar()
)

func usd(s string) generic.Money { return generic.MustParseMoney(s, generic.USD) }

func intPtr(n int) *int { return &n }

func day(offset int) *generic.TimePoint {
	d := today.AddDays(offset)
	return &d
}

func percentCode(code string, pct int64) promo.PromoCode {
	return promo.PromoCode{
		Code:     code,
		Type:     promo.TypePercent,
		Percent:  decimal.NewFromInt(pct),
		Amount:   generic.Zero(generic.USD),
		Scope:    promo.GlobalScope(),
		Status:   promo.StatusActive,
		Stacking: promo.StackingStackable,
	}
}

func fixedCode(code, amount string) promo.PromoCode {
	pc := percentCode(code, 0)
	pc.Type = promo.TypeFixedAmount
	pc.Percent = decimal.Zero
	pc.Amount = usd(amount)
	return pc
}

func line(course string, price string, categories ...generic.CategoryID) promo.CartLine {
	return promo.CartLine{
		CourseID:    generic.CourseID(course),
		CategoryIDs: categories,
		UnitPrice:   usd(price),
		Quantity:    1,
	}
}

func cartOf(lines ...promo.CartLine) promo.Cart {
	return promo.Cart{
		Currency: generic.USD,
		Lines:    lines,
		Customer: promo.Customer{UserID: "u1"},
	}
}

func noHistory(code string) generic.RedemptionHistory {
	return generic.NewRedemptionHistory(code, nil)
}

func evaluate(t *testing.T, pc promo.PromoCode, cart promo.Cart) (promo.Discount, promo.Reason) {
	t.Helper()
	d, err := promo.EvaluateCode(pc, cart, noHistory(pc.Code), today)
	if err == nil {
		return d, ""
	}
	reason, ok := promo.ReasonOf(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	return d, reason
}

// =============================================================================
// DISCOUNT COMPUTATION
// =============================================================================

func TestEvaluate_PercentGlobal(t *testing.T) {
	// GIVEN: SAVE20 on a $100 cart
	// WHEN: Evaluating
	d, reason := evaluate(t, percentCode("SAVE20", 20), cartOf(line("cpr", "100.00")))

	// THEN: $20 off, $80 payable
	require.Empty(t, reason)
	assert.Equal(t, "20.00", d.Amount.Amount())
	assert.Equal(t, "80.00", d.Payable.Amount())
	assert.Equal(t, "100.00", d.Base.Amount())
	assert.Equal(t, []int{0}, d.Lines)
}

func TestEvaluate_PercentBounds(t *testing.T) {
	cart := cartOf(line("cpr", "59.99"))

	zero, _ := evaluate(t, percentCode("ZERO", 0), cart)
	assert.True(t, zero.Amount.IsZero())
	assert.Equal(t, "59.99", zero.Payable.Amount())

	full, _ := evaluate(t, percentCode("FREE", 100), cart)
	assert.Equal(t, "59.99", full.Amount.Amount())
	assert.True(t, full.Payable.IsZero())
}

func TestEvaluate_FixedAmountClampsToBase(t *testing.T) {
	// GIVEN: A $150 fixed code on a $100 cart
	d, reason := evaluate(t, fixedCode("BIG", "150.00"), cartOf(line("cpr", "100.00")))

	// THEN: The discount never exceeds the base and payable is not negative
	require.Empty(t, reason)
	assert.Equal(t, "100.00", d.Amount.Amount())
	assert.True(t, d.Payable.IsZero())
	assert.True(t, d.OverDiscount)
}

func TestEvaluate_FixedAmountBelowBase(t *testing.T) {
	d, _ := evaluate(t, fixedCode("TENOFF", "10.00"), cartOf(line("cpr", "100.00")))
	assert.Equal(t, "10.00", d.Amount.Amount())
	assert.Equal(t, "90.00", d.Payable.Amount())
	assert.False(t, d.OverDiscount)
}

func TestEvaluate_FullPercentIsNotOverDiscount(t *testing.T) {
	d, _ := evaluate(t, percentCode("FREE", 100), cartOf(line("cpr", "100.00")))
	assert.Equal(t, "100.00", d.Amount.Amount())
	assert.False(t, d.OverDiscount)
}

func TestEvaluate_ScopeRestrictsBase(t *testing.T) {
	cart := cartOf(
		line("first-aid-101", "100.00", "first-aid"),
		line("cpr-basics", "60.00", "cpr"),
		line("bls", "40.00", "cpr"),
	)

	courses := percentCode("CPR10", 10)
	courses.Scope = promo.Scope{Kind: promo.ScopeCourses, Courses: []generic.CourseID{"cpr-basics"}}
	d, _ := evaluate(t, courses, cart)
	assert.Equal(t, "6.00", d.Amount.Amount())
	assert.Equal(t, "194.00", d.Payable.Amount())
	assert.Equal(t, []int{1}, d.Lines)

	categories := percentCode("CAT25", 25)
	categories.Scope = promo.Scope{Kind: promo.ScopeCategories, Categories: []generic.CategoryID{"cpr"}}
	d, _ = evaluate(t, categories, cart)
	assert.Equal(t, "25.00", d.Amount.Amount())
	assert.Equal(t, []int{1, 2}, d.Lines)
}

func TestEvaluate_TaxAndShippingOnlyWhenFlagged(t *testing.T) {
	cart := cartOf(line("cpr", "100.00"))
	cart.Tax = usd("8.00")
	cart.Shipping = usd("12.00")

	plain, _ := evaluate(t, percentCode("P10", 10), cart)
	assert.Equal(t, "10.00", plain.Amount.Amount())
	assert.Equal(t, "110.00", plain.Payable.Amount())

	withTax := percentCode("TAX10", 10)
	withTax.ApplyToTax = true
	d, _ := evaluate(t, withTax, cart)
	assert.Equal(t, "10.80", d.Amount.Amount())
	assert.True(t, d.IncludesTax)

	withBoth := withTax
	withBoth.ApplyToShipping = true
	d, _ = evaluate(t, withBoth, cart)
	assert.Equal(t, "12.00", d.Amount.Amount())
	assert.Equal(t, "108.00", d.Payable.Amount())
}

func TestEvaluate_QuantityMultipliesLineTotal(t *testing.T) {
	l := line("cpr", "25.00")
	l.Quantity = 4
	d, _ := evaluate(t, percentCode("P10", 10), cartOf(l))
	assert.Equal(t, "10.00", d.Amount.Amount())
	assert.Equal(t, "90.00", d.Payable.Amount())
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestEvaluate_EachRejection(t *testing.T) {
	base := percentCode("CODE", 10)
	cart := cartOf(line("cpr", "100.00"))

	tests := []struct {
		name   string
		modify func(pc *promo.PromoCode, c *promo.Cart)
		want   promo.Reason
	}{
		{"not yet active", func(pc *promo.PromoCode, _ *promo.Cart) { pc.StartDate = day(1) }, promo.ReasonNotYetActive},
		{"scheduled without start", func(pc *promo.PromoCode, _ *promo.Cart) { pc.Status = promo.StatusScheduled }, promo.ReasonNotYetActive},
		{"expired by date", func(pc *promo.PromoCode, _ *promo.Cart) { pc.EndDate = day(-1) }, promo.ReasonExpired},
		{"expired by status", func(pc *promo.PromoCode, _ *promo.Cart) { pc.Status = promo.StatusExpired }, promo.ReasonExpired},
		{"paused", func(pc *promo.PromoCode, _ *promo.Cart) { pc.Status = promo.StatusPaused }, promo.ReasonPaused},
		{"total uses", func(pc *promo.PromoCode, _ *promo.Cart) {
			pc.MaxTotalUses = intPtr(5)
			pc.Uses = generic.Counter{Count: 5, Version: 5}
		}, promo.ReasonTotalUsesExceeded},
		{"minimum subtotal", func(pc *promo.PromoCode, _ *promo.Cart) {
			m := usd("150.00")
			pc.MinCartSubtotal = &m
		}, promo.ReasonBelowMinimumSubtotal},
		{"scope", func(pc *promo.PromoCode, _ *promo.Cart) {
			pc.Scope = promo.Scope{Kind: promo.ScopeCourses, Courses: []generic.CourseID{"bls"}}
		}, promo.ReasonScopeMismatch},
		{"first purchase", func(pc *promo.PromoCode, _ *promo.Cart) { pc.FirstPurchaseOnly = true }, promo.ReasonFirstPurchaseRequired},
		{"new customer", func(pc *promo.PromoCode, _ *promo.Cart) { pc.NewCustomersOnly = true }, promo.ReasonNewCustomerRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, c := base, cart
			tt.modify(&pc, &c)
			_, reason := evaluate(t, pc, c)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestEvaluate_WindowIsInclusive(t *testing.T) {
	pc := percentCode("EDGE", 10)
	pc.StartDate = day(0)
	pc.EndDate = day(0)

	_, reason := evaluate(t, pc, cartOf(line("cpr", "100.00")))
	assert.Empty(t, reason)
}

func TestEvaluate_MinimumSubtotalIsInclusive(t *testing.T) {
	pc := percentCode("MIN", 10)
	m := usd("100.00")
	pc.MinCartSubtotal = &m

	_, reason := evaluate(t, pc, cartOf(line("cpr", "100.00")))
	assert.Empty(t, reason)
}

func TestEvaluate_PerUserLimit(t *testing.T) {
	// GIVEN: A one-per-user code already redeemed by u1
	pc := percentCode("ONCE", 10)
	pc.MaxUsesPerUser = intPtr(1)
	history := generic.NewRedemptionHistory("ONCE", []generic.Redemption{{Code: "ONCE", UserID: "u1"}})

	// WHEN: u1 and u2 evaluate it
	_, err := promo.EvaluateCode(pc, cartOf(line("cpr", "100.00")), history, today)
	reason, _ := promo.ReasonOf(err)
	assert.Equal(t, promo.ReasonPerUserUsesExceeded, reason)

	other := cartOf(line("cpr", "100.00"))
	other.Customer.UserID = "u2"
	_, err = promo.EvaluateCode(pc, other, history, today)
	assert.NoError(t, err)
}

func TestEvaluate_FirstFailingCheckWins(t *testing.T) {
	// GIVEN: A code that is expired AND over its total limit AND below minimum
	pc := percentCode("OLD", 10)
	pc.EndDate = day(-10)
	pc.MaxTotalUses = intPtr(1)
	pc.Uses = generic.Counter{Count: 1, Version: 1}
	m := usd("500.00")
	pc.MinCartSubtotal = &m

	// THEN: Expired is reported, every time
	for i := 0; i < 3; i++ {
		_, reason := evaluate(t, pc, cartOf(line("cpr", "100.00")))
		assert.Equal(t, promo.ReasonExpired, reason)
	}

	// AND: Once the date is fixed, the use limit is next
	pc.EndDate = nil
	_, reason := evaluate(t, pc, cartOf(line("cpr", "100.00")))
	assert.Equal(t, promo.ReasonTotalUsesExceeded, reason)
}

func TestEvaluate_PausedBeforeUseLimits(t *testing.T) {
	pc := percentCode("P", 10)
	pc.Status = promo.StatusPaused
	pc.MaxTotalUses = intPtr(0)

	_, reason := evaluate(t, pc, cartOf(line("cpr", "100.00")))
	assert.Equal(t, promo.ReasonPaused, reason)
}

func TestEvaluate_CurrencyMismatchIsInvariant(t *testing.T) {
	pc := fixedCode("EURO", "10.00")
	pc.Amount = generic.MustParseMoney("10.00", "EUR")

	_, err := promo.EvaluateCode(pc, cartOf(line("cpr", "100.00")), noHistory("EURO"), today)

	require.Error(t, err)
	_, isRejection := promo.ReasonOf(err)
	assert.False(t, isRejection)
	assert.True(t, generic.IsInvariantViolation(err))
}

func TestEvaluator_LookupNormalizesCode(t *testing.T) {
	ev := promo.NewEvaluator(promo.NewCatalog(percentCode("SAVE20", 20)), calendar)
	cart := cartOf(line("cpr", "100.00"))

	d, err := ev.Evaluate("  save20 ", cart, noHistory("SAVE20"), now)
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", d.Code)

	_, err = ev.Evaluate("nope", cart, noHistory("NOPE"), now)
	reason, ok := promo.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, promo.ReasonNotFound, reason)
	assert.True(t, generic.IsRejection(err))
	assert.NotEmpty(t, reason.Message())
}

func TestEvaluator_IsIdempotent(t *testing.T) {
	// GIVEN: A capped code with one use left
	pc := percentCode("LAST", 15)
	pc.MaxTotalUses = intPtr(1)
	ev := promo.NewEvaluator(promo.NewCatalog(pc), calendar)
	cart := cartOf(line("cpr", "80.00"))

	// WHEN: Evaluating it many times
	first, err := ev.Evaluate("LAST", cart, noHistory("LAST"), now)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ev.Evaluate("LAST", cart, noHistory("LAST"), now)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// THEN: Nothing was consumed
	stored, _ := ev.Catalog.Lookup("LAST")
	assert.Equal(t, 0, stored.Uses.Count)
}

// =============================================================================
// EFFECTIVE STATUS
// =============================================================================

func TestEffectiveStatus(t *testing.T) {
	tests := []struct {
		name      string
		persisted promo.Status
		start     *generic.TimePoint
		end       *generic.TimePoint
		want      promo.Status
	}{
		{"active in window", promo.StatusActive, day(-1), day(1), promo.StatusActive},
		{"active before start", promo.StatusActive, day(1), nil, promo.StatusScheduled},
		{"active after end", promo.StatusActive, nil, day(-1), promo.StatusExpired},
		{"scheduled reaches start", promo.StatusScheduled, day(0), nil, promo.StatusActive},
		{"scheduled without start", promo.StatusScheduled, nil, nil, promo.StatusScheduled},
		{"paused in window", promo.StatusPaused, day(-1), day(1), promo.StatusPaused},
		{"paused after end", promo.StatusPaused, nil, day(-1), promo.StatusExpired},
		{"paused before start", promo.StatusPaused, day(3), nil, promo.StatusScheduled},
		{"retired", promo.StatusExpired, nil, nil, promo.StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := percentCode("S", 10)
			pc.Status, pc.StartDate, pc.EndDate = tt.persisted, tt.start, tt.end

			assert.Equal(t, tt.want, promo.EffectiveStatus(pc, today))
			assert.Equal(t, tt.persisted, pc.Status)
		})
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestPromoCode_Validate(t *testing.T) {
	valid := percentCode("OK", 10)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(pc *promo.PromoCode)
	}{
		{"lowercase code", func(pc *promo.PromoCode) { pc.Code = "ok" }},
		{"percent over 100", func(pc *promo.PromoCode) { pc.Percent = decimal.NewFromInt(101) }},
		{"negative percent", func(pc *promo.PromoCode) { pc.Percent = decimal.NewFromInt(-5) }},
		{"zero fixed amount", func(pc *promo.PromoCode) { pc.Type = promo.TypeFixedAmount }},
		{"empty course scope", func(pc *promo.PromoCode) { pc.Scope = promo.Scope{Kind: promo.ScopeCourses} }},
		{"unknown status", func(pc *promo.PromoCode) { pc.Status = "LIVE" }},
		{"unknown stacking", func(pc *promo.PromoCode) { pc.Stacking = "SOMETIMES" }},
		{"end before start", func(pc *promo.PromoCode) { pc.StartDate, pc.EndDate = day(2), day(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := valid
			tt.modify(&pc)
			assert.Error(t, pc.Validate())
		})
	}
}
