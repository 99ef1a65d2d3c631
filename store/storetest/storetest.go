// Package storetest is a conformance suite for the engine's store
// implementations. Each backend's tests call Run with a constructor that
// returns an empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
	"github.com/warp/enrollment-engine/refund"
)

// Backend is every store contract a deployment needs.
type Backend interface {
	promo.Store
	enrollment.Store
	enrollment.ScheduleStore
	Reset(ctx context.Context) error
}

var at = time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC)

func usd(s string) generic.Money { return generic.MustParseMoney(s, generic.USD) }

// Code is a valid ACTIVE percent code with a use cap.
func Code(code string, maxUses int) promo.PromoCode {
	end := generic.NewTimePoint(2025, time.December, 31)
	minSubtotal := usd("25.00")
	return promo.PromoCode{
		Code:     code,
		Type:     promo.TypePercent,
		Percent:  decimal.NewFromInt(20),
		Amount:   generic.Zero(generic.USD),
		Scope:    promo.Scope{Kind: promo.ScopeCourses, Courses: []generic.CourseID{"cpr"}},
		Status:   promo.StatusActive,
		Stacking: promo.StackingStackable,
		EndDate:  &end,

		MaxTotalUses:    &maxUses,
		MinCartSubtotal: &minSubtotal,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func intent(code string, expected generic.Version, checkout string) promo.RedeemIntent {
	return promo.RedeemIntent{
		Code:     code,
		Expected: expected,
		Redemption: generic.Redemption{
			ID:         generic.RedemptionID(fmt.Sprintf("r-%s-%s", checkout, code)),
			Code:       code,
			UserID:     "u1",
			CheckoutID: checkout,
			Discount:   usd("10.00"),
			RedeemedAt: at,
		},
	}
}

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) Backend) {
	t.Run("PromoCodeRoundTrip", func(t *testing.T) { testPromoCodeRoundTrip(t, newStore(t)) })
	t.Run("DuplicateCode", func(t *testing.T) { testDuplicateCode(t, newStore(t)) })
	t.Run("UpdateIsCompareAndSwap", func(t *testing.T) { testUpdateCAS(t, newStore(t)) })
	t.Run("RedeemIsAtomic", func(t *testing.T) { testRedeemAtomic(t, newStore(t)) })
	t.Run("RedeemIsIdempotent", func(t *testing.T) { testRedeemIdempotent(t, newStore(t)) })
	t.Run("RedeemRace", func(t *testing.T) { testRedeemRace(t, newStore(t)) })
	t.Run("EnrollmentRoundTrip", func(t *testing.T) { testEnrollmentRoundTrip(t, newStore(t)) })
	t.Run("EnrollmentCAS", func(t *testing.T) { testEnrollmentCAS(t, newStore(t)) })
	t.Run("Schedules", func(t *testing.T) { testSchedules(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

func testPromoCodeRoundTrip(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePromoCode(ctx, Code("SAVE20", 100)))

	got, err := s.GetPromoCode(ctx, "SAVE20")
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", got.Code)
	assert.True(t, got.Percent.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, promo.ScopeCourses, got.Scope.Kind)
	assert.Equal(t, []generic.CourseID{"cpr"}, got.Scope.Courses)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2025-12-31", got.EndDate.String())
	require.NotNil(t, got.MaxTotalUses)
	assert.Equal(t, 100, *got.MaxTotalUses)
	require.NotNil(t, got.MinCartSubtotal)
	assert.Equal(t, "25.00", got.MinCartSubtotal.Amount())
	assert.Equal(t, generic.Counter{}, got.Uses)
	assert.True(t, at.Equal(got.CreatedAt))

	_, err = s.GetPromoCode(ctx, "MISSING")
	assert.True(t, generic.IsNotFound(err))

	require.NoError(t, s.CreatePromoCode(ctx, Code("ALPHA", 1)))
	list, err := s.ListPromoCodes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ALPHA", list[0].Code)
}

func testDuplicateCode(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePromoCode(ctx, Code("SAVE20", 1)))

	err := s.CreatePromoCode(ctx, Code("SAVE20", 5))

	assert.True(t, errors.Is(err, promo.ErrDuplicateCode))
}

func testUpdateCAS(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePromoCode(ctx, Code("SAVE20", 1)))

	// First writer at version 0 wins
	paused := Code("SAVE20", 1)
	paused.Status = promo.StatusPaused
	require.NoError(t, s.UpdatePromoCode(ctx, paused, 0))

	// Second writer still at version 0 loses
	err := s.UpdatePromoCode(ctx, Code("SAVE20", 1), 0)
	var conflict *generic.ConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, generic.Version(0), conflict.Expected)
	assert.Equal(t, generic.Version(1), conflict.Actual)
	assert.True(t, generic.IsRetryable(err))

	got, err := s.GetPromoCode(ctx, "SAVE20")
	require.NoError(t, err)
	assert.Equal(t, promo.StatusPaused, got.Status)
	assert.Equal(t, generic.Version(1), got.Uses.Version)

	err = s.UpdatePromoCode(ctx, Code("GHOST", 1), 0)
	assert.True(t, generic.IsNotFound(err))
}

func testRedeemAtomic(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePromoCode(ctx, Code("A", 10)))
	require.NoError(t, s.CreatePromoCode(ctx, Code("B", 10)))

	// B is evaluated against a stale version, so nothing commits
	err := s.Redeem(ctx, []promo.RedeemIntent{intent("A", 0, "chk-1"), intent("B", 7, "chk-1")})
	require.True(t, generic.IsRetryable(err), "got %v", err)

	for _, code := range []string{"A", "B"} {
		pc, err := s.GetPromoCode(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, 0, pc.Uses.Count, code)
	}
	rs, err := s.LoadRedemptionsByCheckout(ctx, "chk-1")
	require.NoError(t, err)
	assert.Empty(t, rs)

	// With correct versions both commit together
	require.NoError(t, s.Redeem(ctx, []promo.RedeemIntent{intent("A", 0, "chk-1"), intent("B", 0, "chk-1")}))
	a, err := s.GetPromoCode(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, generic.Counter{Count: 1, Version: 1}, a.Uses)

	rs, err = s.LoadRedemptionsByCheckout(ctx, "chk-1")
	require.NoError(t, err)
	assert.Len(t, rs, 2)

	rs, err = s.LoadRedemptions(ctx, "A")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "10.00", rs[0].Discount.Amount())
	assert.Equal(t, generic.UserID("u1"), rs[0].UserID)
}

func testRedeemIdempotent(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePromoCode(ctx, Code("A", 10)))
	require.NoError(t, s.Redeem(ctx, []promo.RedeemIntent{intent("A", 0, "chk-1")}))

	again := intent("A", 1, "chk-1")
	again.Redemption.ID = "r-retry"
	err := s.Redeem(ctx, []promo.RedeemIntent{again})

	assert.True(t, errors.Is(err, generic.ErrDuplicateIdempotencyKey), "got %v", err)
	pc, err := s.GetPromoCode(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, pc.Uses.Count)
}

func testRedeemRace(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePromoCode(ctx, Code("LAST", 1)))

	// Every racer evaluated against version 0
	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Redeem(ctx, []promo.RedeemIntent{intent("LAST", 0, fmt.Sprintf("chk-%d", i))})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, generic.IsRetryable(err), "got %v", err)
	}
	assert.Equal(t, 1, wins)

	pc, err := s.GetPromoCode(ctx, "LAST")
	require.NoError(t, err)
	assert.Equal(t, 1, pc.Uses.Count)
}

func sampleEnrollment() enrollment.Enrollment {
	return enrollment.Enrollment{
		ID:         "enr-1",
		StudentID:  "student-1",
		CourseID:   "cpr",
		ScheduleID: "s1",
		Status:     enrollment.StatusPending,
		AmountPaid: usd("0.00"),
		AmountDue:  usd("200.00"),
		Deposit:    usd("50.00"),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func testEnrollmentRoundTrip(t *testing.T, s Backend) {
	ctx := context.Background()
	e := sampleEnrollment()
	require.NoError(t, s.CreateEnrollment(ctx, e))

	got, err := s.GetEnrollment(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, e.StudentID, got.StudentID)
	assert.Equal(t, e.ScheduleID, got.ScheduleID)
	assert.Equal(t, enrollment.StatusPending, got.Status)
	assert.Equal(t, "200.00", got.AmountDue.Amount())
	assert.Equal(t, "50.00", got.Deposit.Amount())
	assert.Nil(t, got.Cancellation)
	assert.Equal(t, generic.Version(0), got.Version)

	// A cancellation decision survives storage
	expires := generic.NewTimePoint(2026, time.March, 20)
	cancelled := *got
	cancelled.Status = enrollment.StatusCancelled
	cancelled.AmountPaid = usd("200.00")
	cancelled.AmountDue = usd("0.00")
	cancelled.Cancellation = &refund.Decision{
		Tier:             refund.TierFutureCreditPartial,
		DaysUntilClass:   10,
		RefundAmount:     usd("0.00"),
		CreditAmount:     usd("150.00"),
		ForfeitedDeposit: usd("50.00"),
		CreditExpiresAt:  &expires,
	}
	require.NoError(t, s.UpdateEnrollment(ctx, cancelled, 0))

	got, err = s.GetEnrollment(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCancelled, got.Status)
	assert.Equal(t, generic.Version(1), got.Version)
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, refund.TierFutureCreditPartial, got.Cancellation.Tier)
	assert.Equal(t, "150.00", got.Cancellation.CreditAmount.Amount())
	require.NotNil(t, got.Cancellation.CreditExpiresAt)
	assert.Equal(t, "2026-03-20", got.Cancellation.CreditExpiresAt.String())

	_, err = s.GetEnrollment(ctx, "ghost")
	assert.True(t, generic.IsNotFound(err))
}

func testEnrollmentCAS(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreateEnrollment(ctx, sampleEnrollment()))

	first := sampleEnrollment()
	first.Status = enrollment.StatusConfirmed
	require.NoError(t, s.UpdateEnrollment(ctx, first, 0))

	stale := sampleEnrollment()
	stale.Status = enrollment.StatusCancelled
	err := s.UpdateEnrollment(ctx, stale, 0)
	assert.True(t, generic.IsRetryable(err), "got %v", err)

	got, err := s.GetEnrollment(ctx, "enr-1")
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusConfirmed, got.Status)

	ghost := sampleEnrollment()
	ghost.ID = "ghost"
	assert.True(t, generic.IsNotFound(s.UpdateEnrollment(ctx, ghost, 0)))
}

func testSchedules(t *testing.T, s Backend) {
	ctx := context.Background()
	sc := enrollment.Schedule{
		ID:       "s1",
		CourseID: "cpr",
		StartsAt: at.Add(48 * time.Hour),
		EndsAt:   at.Add(56 * time.Hour),
		Price:    usd("200.00"),
	}
	require.NoError(t, s.SaveSchedule(ctx, sc))

	sc.Price = usd("180.00")
	require.NoError(t, s.SaveSchedule(ctx, sc))

	got, err := s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "180.00", got.Price.Amount())
	assert.True(t, sc.StartsAt.Equal(got.StartsAt))
	assert.True(t, sc.EndsAt.Equal(got.EndsAt))

	_, err = s.GetSchedule(ctx, "nope")
	assert.True(t, generic.IsNotFound(err))
}

func testReset(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePromoCode(ctx, Code("A", 1)))
	require.NoError(t, s.Redeem(ctx, []promo.RedeemIntent{intent("A", 0, "chk-1")}))
	require.NoError(t, s.CreateEnrollment(ctx, sampleEnrollment()))

	require.NoError(t, s.Reset(ctx))

	list, err := s.ListPromoCodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = s.GetEnrollment(ctx, "enr-1")
	assert.True(t, generic.IsNotFound(err))
	require.NoError(t, s.CreatePromoCode(ctx, Code("A", 1)))
}
