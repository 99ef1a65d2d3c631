/*
ledger.go - Append-only promo code redemption log

PURPOSE:
  Every successful checkout that consumed a promo code leaves one Redemption
  here. The per-user and total usage counts the evaluator needs are derived
  by replaying these records, so there is no separate per-user counter that
  can drift.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: redemptions are never updated or deleted
  2. IDEMPOTENT: (CheckoutID, Code) is unique; a retried checkout does not
     consume a second use
  3. ATOMIC WITH THE COUNTER: the append happens in the same store operation
     that increments the code's versioned use count (see promo.Store.Redeem)

SEE ALSO:
  - store.go: RedemptionStore read interface
  - promo/redeem.go: the only writer
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// REDEMPTION - One consumed use of a promo code
// =============================================================================

type Redemption struct {
	ID         RedemptionID
	Code       string
	UserID     UserID
	CheckoutID string // idempotency key, unique per code
	Discount   Money
	RedeemedAt time.Time
}

// RedemptionHistory is the usage summary for one code.
type RedemptionHistory struct {
	Code   string
	Total  int
	ByUser map[UserID]int
}

// NewRedemptionHistory replays redemptions of a single code.
func NewRedemptionHistory(code string, redemptions []Redemption) RedemptionHistory {
	h := RedemptionHistory{Code: code, ByUser: make(map[UserID]int)}
	for _, r := range redemptions {
		if r.Code != code {
			continue
		}
		h.Total++
		h.ByUser[r.UserID]++
	}
	return h
}

// UsesBy returns how many times user has redeemed the code.
func (h RedemptionHistory) UsesBy(user UserID) int {
	return h.ByUser[user]
}

// =============================================================================
// LEDGER - Read side over the redemption store
// =============================================================================

type Ledger interface {
	// History returns per-user and total counts for a code.
	History(ctx context.Context, code string) (RedemptionHistory, error)

	// Checkout returns every redemption recorded under a checkout key.
	Checkout(ctx context.Context, checkoutID string) ([]Redemption, error)
}

type DefaultLedger struct {
	Store RedemptionStore
}

func NewLedger(store RedemptionStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) History(ctx context.Context, code string) (RedemptionHistory, error) {
	rs, err := l.Store.LoadRedemptions(ctx, code)
	if err != nil {
		return RedemptionHistory{}, err
	}
	return NewRedemptionHistory(code, rs), nil
}

func (l *DefaultLedger) Checkout(ctx context.Context, checkoutID string) ([]Redemption, error) {
	return l.Store.LoadRedemptionsByCheckout(ctx, checkoutID)
}
