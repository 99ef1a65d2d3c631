// Package store provides in-memory implementations of the engine's stores.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements promo.Store, enrollment.Store and enrollment.ScheduleStore.
type Memory struct {
	mu          sync.RWMutex
	codes       map[string]promo.PromoCode
	redemptions []generic.Redemption
	idempotency map[redemptionKey]bool
	enrollments map[generic.EnrollmentID]enrollment.Enrollment
	schedules   map[generic.ScheduleID]enrollment.Schedule
}

type redemptionKey struct {
	CheckoutID string
	Code       string
}

func NewMemory() *Memory {
	return &Memory{
		codes:       make(map[string]promo.PromoCode),
		idempotency: make(map[redemptionKey]bool),
		enrollments: make(map[generic.EnrollmentID]enrollment.Enrollment),
		schedules:   make(map[generic.ScheduleID]enrollment.Schedule),
	}
}

// =============================================================================
// PROMO CODES
// =============================================================================

func (m *Memory) GetPromoCode(_ context.Context, code string) (*promo.PromoCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pc, ok := m.codes[code]
	if !ok {
		return nil, &generic.NotFoundError{Entity: "promo_code", ID: code}
	}
	return &pc, nil
}

func (m *Memory) ListPromoCodes(_ context.Context) ([]promo.PromoCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]promo.PromoCode, 0, len(m.codes))
	for _, pc := range m.codes {
		result = append(result, pc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (m *Memory) CreatePromoCode(_ context.Context, pc promo.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.codes[pc.Code]; ok {
		return promo.ErrDuplicateCode
	}
	m.codes[pc.Code] = pc
	return nil
}

func (m *Memory) UpdatePromoCode(_ context.Context, pc promo.PromoCode, expected generic.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.codes[pc.Code]
	if !ok {
		return &generic.NotFoundError{Entity: "promo_code", ID: pc.Code}
	}
	if stored.Uses.Version != expected {
		return &generic.ConflictError{Entity: "promo_code", ID: pc.Code, Expected: expected, Actual: stored.Uses.Version}
	}
	pc.Uses = generic.Counter{Count: stored.Uses.Count, Version: expected.Next()}
	pc.CreatedAt = stored.CreatedAt
	m.codes[pc.Code] = pc
	return nil
}

// Redeem checks every intent before writing any of them.
func (m *Memory) Redeem(_ context.Context, intents []promo.RedeemIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all versions and idempotency keys first (atomic check)
	seen := make(map[redemptionKey]bool, len(intents))
	for _, in := range intents {
		k := redemptionKey{CheckoutID: in.Redemption.CheckoutID, Code: in.Code}
		if m.idempotency[k] || seen[k] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[k] = true

		stored, ok := m.codes[in.Code]
		if !ok {
			return &generic.NotFoundError{Entity: "promo_code", ID: in.Code}
		}
		if stored.Uses.Version != in.Expected {
			return &generic.ConflictError{Entity: "promo_code", ID: in.Code, Expected: in.Expected, Actual: stored.Uses.Version}
		}
	}

	// Apply all (atomic write)
	for _, in := range intents {
		pc := m.codes[in.Code]
		pc.Uses = pc.Uses.Increment()
		m.codes[in.Code] = pc
		m.redemptions = append(m.redemptions, in.Redemption)
		m.idempotency[redemptionKey{CheckoutID: in.Redemption.CheckoutID, Code: in.Code}] = true
	}
	return nil
}

func (m *Memory) LoadRedemptions(_ context.Context, code string) ([]generic.Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Redemption
	for _, r := range m.redemptions {
		if r.Code == code {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) LoadRedemptionsByCheckout(_ context.Context, checkoutID string) ([]generic.Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Redemption
	for _, r := range m.redemptions {
		if r.CheckoutID == checkoutID {
			result = append(result, r)
		}
	}
	return result, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (m *Memory) GetEnrollment(_ context.Context, id generic.EnrollmentID) (*enrollment.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.enrollments[id]
	if !ok {
		return nil, &generic.NotFoundError{Entity: "enrollment", ID: string(id)}
	}
	return &e, nil
}

func (m *Memory) CreateEnrollment(_ context.Context, e enrollment.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.enrollments[e.ID]; ok {
		return &generic.ConflictError{Entity: "enrollment", ID: string(e.ID), Expected: 0, Actual: m.enrollments[e.ID].Version}
	}
	m.enrollments[e.ID] = e
	return nil
}

func (m *Memory) UpdateEnrollment(_ context.Context, e enrollment.Enrollment, expected generic.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.enrollments[e.ID]
	if !ok {
		return &generic.NotFoundError{Entity: "enrollment", ID: string(e.ID)}
	}
	if stored.Version != expected {
		return &generic.ConflictError{Entity: "enrollment", ID: string(e.ID), Expected: expected, Actual: stored.Version}
	}
	e.Version = expected.Next()
	m.enrollments[e.ID] = e
	return nil
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (m *Memory) GetSchedule(_ context.Context, id generic.ScheduleID) (*enrollment.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, &generic.NotFoundError{Entity: "schedule", ID: string(id)}
	}
	return &s, nil
}

func (m *Memory) SaveSchedule(_ context.Context, s enrollment.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[s.ID] = s
	return nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.codes = make(map[string]promo.PromoCode)
	m.redemptions = nil
	m.idempotency = make(map[redemptionKey]bool)
	m.enrollments = make(map[generic.EnrollmentID]enrollment.Enrollment)
	m.schedules = make(map[generic.ScheduleID]enrollment.Schedule)
	return nil
}
