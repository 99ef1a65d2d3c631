package promo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
)

func discounted(t *testing.T, cart promo.Cart, codes ...promo.PromoCode) []promo.Discount {
	t.Helper()
	out := make([]promo.Discount, len(codes))
	for i, pc := range codes {
		d, reason := evaluate(t, pc, cart)
		require.Empty(t, reason, pc.Code)
		out[i] = d
	}
	return out
}

func exclusive(pc promo.PromoCode) promo.PromoCode {
	pc.Stacking = promo.StackingExclusive
	return pc
}

func TestCombine_StackableCodesAddUp(t *testing.T) {
	// GIVEN: Two stackable codes on a $100 cart
	cart := cartOf(line("cpr", "100.00"))
	ds := discounted(t, cart, percentCode("TEN", 10), fixedCode("FIVE", "5.00"))

	// WHEN: Combining
	c, err := promo.Combine(cart, ds)
	require.NoError(t, err)

	// THEN: Discounts are summed
	assert.Len(t, c.Applied, 2)
	assert.Empty(t, c.Replaced)
	assert.Equal(t, "15.00", c.Total.Amount())
	assert.Equal(t, "85.00", c.Payable.Amount())
	assert.False(t, c.OverDiscount)
}

func TestCombine_ExclusiveReplacesEarlierCodes(t *testing.T) {
	cart := cartOf(line("cpr", "100.00"))
	ds := discounted(t, cart, percentCode("TEN", 10), fixedCode("FIVE", "5.00"), exclusive(percentCode("SPRING20", 20)))

	c, err := promo.Combine(cart, ds)
	require.NoError(t, err)

	require.Len(t, c.Applied, 1)
	assert.Equal(t, "SPRING20", c.Applied[0].Code)
	assert.Equal(t, []string{"TEN", "FIVE"}, c.Replaced)
	assert.Equal(t, "80.00", c.Payable.Amount())
}

func TestCombine_LaterCodeReplacesExclusive(t *testing.T) {
	cart := cartOf(line("cpr", "100.00"))
	ds := discounted(t, cart, exclusive(percentCode("SPRING20", 20)), percentCode("TEN", 10))

	c, err := promo.Combine(cart, ds)
	require.NoError(t, err)

	require.Len(t, c.Applied, 1)
	assert.Equal(t, "TEN", c.Applied[0].Code)
	assert.Equal(t, []string{"SPRING20"}, c.Replaced)
}

func TestCombine_SameCodeTwiceCountsOnce(t *testing.T) {
	cart := cartOf(line("cpr", "100.00"))
	ds := discounted(t, cart, percentCode("TEN", 10), percentCode("TEN", 10))

	c, err := promo.Combine(cart, ds)
	require.NoError(t, err)

	assert.Len(t, c.Applied, 1)
	assert.Empty(t, c.Replaced)
	assert.Equal(t, "10.00", c.Total.Amount())
}

func TestCombine_ClampsToUnionBase(t *testing.T) {
	// GIVEN: $80 + $50 fixed codes on a $100 cart
	cart := cartOf(line("cpr", "100.00"))
	ds := discounted(t, cart, fixedCode("EIGHTY", "80.00"), fixedCode("FIFTY", "50.00"))

	// WHEN: Combining
	c, err := promo.Combine(cart, ds)
	require.NoError(t, err)

	// THEN: The total is clamped and flagged, payable is zero
	assert.True(t, c.OverDiscount)
	assert.Equal(t, "100.00", c.Total.Amount())
	assert.True(t, c.Payable.IsZero())

	// AND: Allocation assigns in order and sums to the total
	amounts, err := c.Allocate()
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, "80.00", amounts[0].Amount())
	assert.Equal(t, "20.00", amounts[1].Amount())
}

func TestCombine_SingleFixedCodeAboveCartIsFlagged(t *testing.T) {
	// GIVEN: A $50 fixed code on a $30 cart
	cart := cartOf(line("cpr", "30.00"))
	ds := discounted(t, cart, fixedCode("TAKE50", "50.00"))

	// WHEN: Combining
	c, err := promo.Combine(cart, ds)
	require.NoError(t, err)

	// THEN: The discount is clamped to the cart and flagged
	assert.Equal(t, "30.00", c.Total.Amount())
	assert.True(t, c.Payable.IsZero())
	assert.True(t, c.OverDiscount)
}

func TestCombine_ScopedCodesUseTheirLinesOnly(t *testing.T) {
	// GIVEN: A course-scoped $70 code and a global $5 code
	cart := cartOf(line("first-aid-101", "100.00"), line("cpr-basics", "60.00"))
	cpr := fixedCode("CPR70", "70.00")
	cpr.Scope = promo.Scope{Kind: promo.ScopeCourses, Courses: []generic.CourseID{"cpr-basics"}}
	ds := discounted(t, cart, cpr, fixedCode("FIVE", "5.00"))

	// WHEN: Combining
	c, err := promo.Combine(cart, ds)
	require.NoError(t, err)

	// THEN: The scoped code is capped by its own line and the base is the union
	assert.Equal(t, "60.00", ds[0].Amount.Amount())
	assert.Equal(t, "160.00", c.Base.Amount())
	assert.Equal(t, "65.00", c.Total.Amount())
	assert.Equal(t, "95.00", c.Payable.Amount())
}

func TestCombine_Empty(t *testing.T) {
	cart := cartOf(line("cpr", "100.00"))

	c, err := promo.Combine(cart, nil)
	require.NoError(t, err)

	assert.Empty(t, c.Applied)
	assert.True(t, c.Total.IsZero())
	assert.Equal(t, "100.00", c.Payable.Amount())
}
