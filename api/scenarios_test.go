/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state through
	the real services, so scenarios double as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
)

func TestScenario_SpringPromos(t *testing.T) {
	// GIVEN: The spring promotions scenario
	// WHEN: Loading it
	// THEN: Five codes exist and the scheduled one is not yet active
	h, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "spring-promos"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	codes := decodeAs[[]PromoCodeDTO](t, do(t, router, http.MethodGet, "/api/promo-codes", nil))
	require.Len(t, codes, 5)
	status := make(map[string]string)
	for _, c := range codes {
		status[c.Code] = c.EffectiveStatus
	}
	assert.Equal(t, "SCHEDULED", status["EARLYBIRD"])
	assert.Equal(t, "ACTIVE", status["SPRING20"])

	current := decodeAs[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "spring-promos", current.ID)

	// AND: A new customer's first-aid cart gets SPRING20 alone (it is exclusive)
	q, err := h.Promos.Quote(context.Background(), []string{"WELCOME10", "SPRING20"}, promo.Cart{
		Currency: generic.USD,
		Lines: []promo.CartLine{{
			CourseID:  "first-aid-101",
			UnitPrice: generic.MustParseMoney("120.00", generic.USD),
			Quantity:  1,
		}},
		Customer: promo.Customer{UserID: "u1", IsNewCustomer: true},
	})
	require.NoError(t, err)
	require.Len(t, q.Combined.Applied, 1)
	assert.Equal(t, "SPRING20", q.Combined.Applied[0].Code)
	assert.Equal(t, []string{"WELCOME10"}, q.Combined.Replaced)
	assert.Equal(t, "24.00", q.Combined.Total.Amount())
}

func TestScenario_ReloadResetsStorage(t *testing.T) {
	// GIVEN: A scenario loaded twice
	_, router := setupTestHandler(t)
	body := LoadScenarioRequest{ScenarioID: "spring-promos"}

	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/scenarios/load", body).Code)
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", body)

	// THEN: The second load does not collide with the first
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	codes := decodeAs[[]PromoCodeDTO](t, do(t, router, http.MethodGet, "/api/promo-codes", nil))
	assert.Len(t, codes, 5)
}

func TestScenario_ConcurrentLoadsAndReads(t *testing.T) {
	// GIVEN: Several clients loading and polling scenarios at once
	_, router := setupTestHandler(t)
	body := LoadScenarioRequest{ScenarioID: "spring-promos"}

	var wg sync.WaitGroup
	statuses := make([]int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			statuses[i] = do(t, router, http.MethodPost, "/api/scenarios/load", body).Code
		}(i)
		go func() {
			defer wg.Done()
			do(t, router, http.MethodGet, "/api/scenarios/current", nil)
		}()
	}
	wg.Wait()

	// THEN: Every load succeeds and the store holds exactly one copy
	for _, code := range statuses {
		assert.Equal(t, http.StatusOK, code)
	}
	current := decodeAs[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "spring-promos", current.ID)
	codes := decodeAs[[]PromoCodeDTO](t, do(t, router, http.MethodGet, "/api/promo-codes", nil))
	assert.Len(t, codes, 5)
}

func TestScenario_CancellationTiers(t *testing.T) {
	h, _ := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, h.loadCancellationTiersScenario(ctx))

	for _, id := range []generic.ScheduleID{"sched-30d", "sched-18d", "sched-7d", "sched-started"} {
		s, err := h.Schedules.GetSchedule(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, "200.00", s.Price.Amount())
	}

	s, err := h.Schedules.GetSchedule(ctx, "sched-18d")
	require.NoError(t, err)
	assert.Equal(t, 18, h.Refunds.DaysUntilClass(s.StartsAt, testNow))
}

func TestScenario_CompletionGate(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "completion-gate"})

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_Unknown(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
