/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate storage with realistic data
	for demos and manual testing. Each scenario syncs schedules, creates
	promo codes via the factory, and drives enrollments through the real
	services so every record is one the engine itself could have produced.

AVAILABLE SCENARIOS:

	spring-promos:       Exclusive, stackable, scheduled and capped codes
	cancellation-tiers:  One paid enrollment per refund tier
	completion-gate:     A finished course with a balance still due

HOW SCENARIOS WORK:
 1. Reset storage (when the handler has a Resetter)
 2. Sync schedules relative to today
 3. Create promo codes from JSON
 4. Create enrollments and apply lifecycle events

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "cancellation-tiers"}

NOTE:

	Scenarios reset storage. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and services
  - factory/promo.go: promo code JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/generic"
)

// Resetter clears every stored entity.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "promo" or "enrollment"
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "spring-promos",
		Name:        "Spring Promotions",
		Description: "Exclusive category code, stackable welcome codes, a scheduled code and a single-use code",
		Category:    "promo",
	},
	{
		ID:          "cancellation-tiers",
		Name:        "Cancellation Tiers",
		Description: "Paid enrollments 30, 18, 7 days before class and one already started",
		Category:    "enrollment",
	},
	{
		ID:          "completion-gate",
		Name:        "Completion Gate",
		Description: "A finished course whose enrollment still has a balance due",
		Category:    "enrollment",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.RLock()
	current := h.currentScenario
	h.scenarioMu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	var load func(context.Context) error
	switch req.ScenarioID {
	case "spring-promos":
		load = h.loadSpringPromosScenario
	case "cancellation-tiers":
		load = h.loadCancellationTiersScenario
	case "completion-gate":
		load = h.loadCompletionGateScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if h.Resetter != nil {
		if err := h.Resetter.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset storage", err)
			return
		}
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.Logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSpringPromosScenario(ctx context.Context) error {
	today := h.today()
	if err := h.syncSchedules(ctx,
		scheduleSeed{"sched-first-aid", "first-aid-101", 30, 1, "120.00"},
		scheduleSeed{"sched-cpr", "cpr-basics", 45, 1, "80.00"},
	); err != nil {
		return err
	}

	codes := []string{
		`{"code": "SPRING20", "type": "PERCENT", "percent": "20",
		  "scope": {"kind": "COURSES", "courses": ["first-aid-101"]}}`,
		`{"code": "WELCOME10", "type": "FIXED_AMOUNT", "amount": "10.00",
		  "stacking": "STACKABLE", "new_customers_only": true}`,
		`{"code": "EXTRA5", "type": "PERCENT", "percent": "5", "stacking": "STACKABLE",
		  "min_cart_subtotal": "100.00"}`,
		fmt.Sprintf(`{"code": "EARLYBIRD", "type": "PERCENT", "percent": "15", "status": "SCHEDULED",
		  "start_date": %q}`, today.AddDays(14).String()),
		`{"code": "LASTSEAT", "type": "FIXED_AMOUNT", "amount": "25.00", "max_total_uses": 1}`,
	}
	for _, raw := range codes {
		pc, err := h.PromoFactory.ParsePromoCode([]byte(raw))
		if err != nil {
			return err
		}
		if _, err := h.Promos.Create(ctx, *pc); err != nil {
			return fmt.Errorf("create %s: %w", pc.Code, err)
		}
	}
	return nil
}

func (h *Handler) loadCancellationTiersScenario(ctx context.Context) error {
	seeds := []scheduleSeed{
		{"sched-30d", "first-aid-101", 30, 1, "200.00"},
		{"sched-18d", "first-aid-101", 18, 1, "200.00"},
		{"sched-7d", "first-aid-101", 7, 1, "200.00"},
		{"sched-started", "first-aid-101", -1, 3, "200.00"},
	}
	if err := h.syncSchedules(ctx, seeds...); err != nil {
		return err
	}
	for i, s := range seeds {
		student := generic.UserID(fmt.Sprintf("student-%d", i+1))
		if _, err := h.paidEnrollment(ctx, student, generic.ScheduleID(s.id)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCompletionGateScenario(ctx context.Context) error {
	if err := h.syncSchedules(ctx, scheduleSeed{"sched-finished", "cpr-basics", -3, 1, "80.00"}); err != nil {
		return err
	}
	e, err := h.paidEnrollment(ctx, "student-gate", "sched-finished")
	if err != nil {
		return err
	}
	paid := generic.MustParseMoney("50.00", h.Currency)
	due := generic.MustParseMoney("30.00", h.Currency)
	_, err = h.Enrollments.UpdateBalance(ctx, e.ID, paid, due)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

type scheduleSeed struct {
	id       string
	course   string
	startIn  int // days from today
	lastsFor int // days
	price    string
}

func (h *Handler) today() generic.TimePoint {
	return h.Refunds.Calendar.Day(h.Now())
}

func (h *Handler) syncSchedules(ctx context.Context, seeds ...scheduleSeed) error {
	base := h.today().Time.Add(9 * time.Hour)
	for _, s := range seeds {
		start := base.AddDate(0, 0, s.startIn)
		sched := enrollment.Schedule{
			ID:       generic.ScheduleID(s.id),
			CourseID: generic.CourseID(s.course),
			StartsAt: start,
			EndsAt:   start.AddDate(0, 0, s.lastsFor),
			Price:    generic.MustParseMoney(s.price, h.Currency),
		}
		if err := h.Schedules.SaveSchedule(ctx, sched); err != nil {
			return fmt.Errorf("save schedule %s: %w", s.id, err)
		}
	}
	return nil
}

// paidEnrollment creates a confirmed enrollment with the full price paid.
func (h *Handler) paidEnrollment(ctx context.Context, student generic.UserID, schedule generic.ScheduleID) (*enrollment.Enrollment, error) {
	e, err := h.Enrollments.Create(ctx, enrollment.CreateRequest{StudentID: student, ScheduleID: schedule})
	if err != nil {
		return nil, err
	}
	if _, err := h.Enrollments.UpdateBalance(ctx, e.ID, e.AmountDue, generic.Zero(e.AmountDue.Currency)); err != nil {
		return nil, err
	}
	return h.Enrollments.Apply(ctx, e.ID, enrollment.EventRequest{
		Event:               enrollment.EventPaymentConfirmed,
		PaymentConfirmation: "demo-" + string(e.ID),
	})
}
