/*
store.go - Persistence contracts shared by the policy packages

PURPOSE:
  The engine never performs I/O itself. Services fetch state through these
  interfaces, run the pure policy functions, then write back through a
  compare-and-swap so that two concurrent writers cannot both succeed.

CONCURRENCY CONTRACT:
  Every write of a versioned entity names the Version it was computed from.
  The store must apply the write only if the stored version still matches,
  and otherwise return a *ConflictError (errors.Is ErrConcurrentModification).
  Implementations choose how:
  - generic/store:  mutex + version check
  - store/sqlite:   UPDATE ... WHERE version = ?
  - store/postgres: SELECT ... FOR UPDATE, then the same version predicate

IMPLEMENTATIONS:
  - generic/store/memory.go
  - store/sqlite/sqlite.go
  - store/postgres/postgres.go

SEE ALSO:
  - ledger.go: read-side over RedemptionStore
  - promo/store.go, enrollment/store.go: domain store interfaces
*/
package generic

import "context"

// RedemptionStore is the read side of the redemption log. Writes happen only
// through promo.Store.Redeem so they are atomic with the use-count increment.
type RedemptionStore interface {
	// LoadRedemptions returns every redemption of code, oldest first.
	LoadRedemptions(ctx context.Context, code string) ([]Redemption, error)

	// LoadRedemptionsByCheckout returns redemptions recorded under a checkout key.
	LoadRedemptionsByCheckout(ctx context.Context, checkoutID string) ([]Redemption, error)
}
