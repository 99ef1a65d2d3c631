/*
redeem.go - Checkout-time promo code consumption

PURPOSE:
  The Service is the only place a promo code's use count changes. It wraps
  the pure evaluator with store I/O:

  Quote (cart recalculation, no side effects):
    fetch definitions + history -> Evaluate each code -> Combine

  Checkout (consumes uses):
    replay check on CheckoutID -> Quote -> Store.Redeem(all applied codes,
    each guarded by the version it was evaluated against)

CONCURRENCY:
  Two checkouts racing for the last use of a capped code both evaluate
  against version N; only one Redeem can move the code to N+1. The loser
  gets a ConflictError, re-fetches, re-evaluates (now TotalUsesExceeded) and
  is rejected. A second conflict in a row is surfaced as retryable.

IDEMPOTENCY:
  A checkout retried with the same CheckoutID returns the redemptions
  recorded the first time instead of consuming again.

SEE ALSO:
  - evaluator.go: the pure checks
  - store.go: Redeem contract
*/
package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/generic"
)

// Evaluation is the per-code outcome of a quote.
type Evaluation struct {
	Code      string
	Version   generic.Version
	Discount  *Discount
	Rejection *RejectionError
}

// Quote is the result of evaluating a set of codes on one cart.
type Quote struct {
	Evaluations []Evaluation
	Combined    Combined
}

// CheckoutRequest consumes codes for one order.
type CheckoutRequest struct {
	CheckoutID string
	Codes      []string
	Cart       Cart
}

// CheckoutResult carries the redemptions written (or found, on replay).
type CheckoutResult struct {
	Quote       Quote
	Redemptions []generic.Redemption
	Replayed    bool
}

type Service struct {
	Store    Store
	Ledger   generic.Ledger
	Calendar generic.Calendar
	Logger   *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func NewService(store Store, calendar generic.Calendar, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:    store,
		Ledger:   generic.NewLedger(store),
		Calendar: calendar,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Quote evaluates every code against cart without consuming anything.
// Rejected codes are reported per code; only invariant violations and store
// failures are returned as errors.
func (s *Service) Quote(ctx context.Context, codes []string, cart Cart) (Quote, error) {
	today := s.Calendar.Day(s.Now())

	var q Quote
	var accepted []Discount
	for _, raw := range codes {
		code := NormalizeCode(raw)
		ev, err := s.evaluate(ctx, code, cart, today)
		if err != nil {
			return Quote{}, err
		}
		q.Evaluations = append(q.Evaluations, ev)
		if ev.Discount != nil {
			accepted = append(accepted, *ev.Discount)
		}
	}

	combined, err := Combine(cart, accepted)
	if err != nil {
		s.logInvariant("combine discounts", err)
		return Quote{}, err
	}
	q.Combined = combined
	return q, nil
}

func (s *Service) evaluate(ctx context.Context, code string, cart Cart, today generic.TimePoint) (Evaluation, error) {
	pc, err := s.Store.GetPromoCode(ctx, code)
	if generic.IsNotFound(err) {
		return Evaluation{Code: code, Rejection: &RejectionError{Code: code, Reason: ReasonNotFound}}, nil
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("load promo code %s: %w", code, err)
	}

	history, err := s.Ledger.History(ctx, code)
	if err != nil {
		return Evaluation{}, fmt.Errorf("load redemption history %s: %w", code, err)
	}

	d, err := EvaluateCode(*pc, cart, history, today)
	var rej *RejectionError
	switch {
	case errors.As(err, &rej):
		s.Logger.Info("promo code rejected",
			zap.String("category", "rejection"),
			zap.String("code", code),
			zap.String("reason", string(rej.Reason)),
			zap.String("user_id", string(cart.Customer.UserID)))
		return Evaluation{Code: code, Version: pc.Uses.Version, Rejection: rej}, nil
	case err != nil:
		s.logInvariant("evaluate promo code "+code, err)
		return Evaluation{}, err
	}
	return Evaluation{Code: code, Version: pc.Uses.Version, Discount: &d}, nil
}

// Checkout consumes the codes that survive stacking. Any rejected code
// fails the whole checkout so the customer never pays a price they were not
// quoted.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	if req.CheckoutID == "" {
		return CheckoutResult{}, fmt.Errorf("checkout id is required")
	}

	if res, ok, err := s.replay(ctx, req.CheckoutID); ok || err != nil {
		return res, err
	}

	res, err := s.checkoutOnce(ctx, req)
	if generic.IsRetryable(err) {
		s.Logger.Warn("promo redemption conflict, retrying",
			zap.String("category", "conflict"),
			zap.String("checkout_id", req.CheckoutID),
			zap.Error(err))
		res, err = s.checkoutOnce(ctx, req)
		if generic.IsRetryable(err) {
			s.Logger.Warn("promo redemption conflict repeated",
				zap.String("category", "conflict"),
				zap.String("checkout_id", req.CheckoutID))
		}
	}

	// A concurrent request with the same checkout id committed first.
	if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		if prior, ok, rerr := s.replay(ctx, req.CheckoutID); ok || rerr != nil {
			return prior, rerr
		}
	}
	return res, err
}

// replay returns the stored redemptions of a checkout that already committed.
func (s *Service) replay(ctx context.Context, checkoutID string) (CheckoutResult, bool, error) {
	prior, err := s.Ledger.Checkout(ctx, checkoutID)
	if err != nil {
		return CheckoutResult{}, false, fmt.Errorf("load checkout %s: %w", checkoutID, err)
	}
	if len(prior) == 0 {
		return CheckoutResult{}, false, nil
	}
	s.Logger.Info("checkout replayed", zap.String("checkout_id", checkoutID))
	return CheckoutResult{Redemptions: prior, Replayed: true}, true, nil
}

func (s *Service) checkoutOnce(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	q, err := s.Quote(ctx, req.Codes, req.Cart)
	if err != nil {
		return CheckoutResult{}, err
	}
	for _, ev := range q.Evaluations {
		if ev.Rejection != nil {
			return CheckoutResult{Quote: q}, ev.Rejection
		}
	}

	amounts, err := q.Combined.Allocate()
	if err != nil {
		s.logInvariant("allocate discount", err)
		return CheckoutResult{}, err
	}

	versions := make(map[string]generic.Version, len(q.Evaluations))
	for _, ev := range q.Evaluations {
		versions[ev.Code] = ev.Version
	}

	now := s.Now()
	intents := make([]RedeemIntent, len(q.Combined.Applied))
	redemptions := make([]generic.Redemption, len(q.Combined.Applied))
	for i, d := range q.Combined.Applied {
		r := generic.Redemption{
			ID:         generic.RedemptionID(uuid.NewString()),
			Code:       d.Code,
			UserID:     req.Cart.Customer.UserID,
			CheckoutID: req.CheckoutID,
			Discount:   amounts[i],
			RedeemedAt: now,
		}
		redemptions[i] = r
		intents[i] = RedeemIntent{Code: d.Code, Expected: versions[d.Code], Redemption: r}
	}

	if len(intents) > 0 {
		if err := s.Store.Redeem(ctx, intents); err != nil {
			return CheckoutResult{}, err
		}
	}

	s.Logger.Info("promo codes redeemed",
		zap.String("checkout_id", req.CheckoutID),
		zap.Int("codes", len(intents)),
		zap.String("discount", q.Combined.Total.String()))
	return CheckoutResult{Quote: q, Redemptions: redemptions}, nil
}

// SetStatus changes the persisted status of a code (pause, resume, retire).
func (s *Service) SetStatus(ctx context.Context, code string, status Status) (*PromoCode, error) {
	code = NormalizeCode(code)
	update := func() (*PromoCode, error) {
		pc, err := s.Store.GetPromoCode(ctx, code)
		if err != nil {
			return nil, err
		}
		expected := pc.Uses.Version
		pc.Status = status
		pc.UpdatedAt = s.Now()
		if err := pc.Validate(); err != nil {
			return nil, err
		}
		if err := s.Store.UpdatePromoCode(ctx, *pc, expected); err != nil {
			return nil, err
		}
		pc.Uses.Version = expected.Next()
		return pc, nil
	}

	pc, err := update()
	if generic.IsRetryable(err) {
		pc, err = update()
	}
	return pc, err
}

// Retire soft-deletes a code. Used codes are never hard-deleted.
func (s *Service) Retire(ctx context.Context, code string) (*PromoCode, error) {
	return s.SetStatus(ctx, code, StatusExpired)
}

// Create persists a new definition with a zero use count.
func (s *Service) Create(ctx context.Context, pc PromoCode) (*PromoCode, error) {
	pc.Code = NormalizeCode(pc.Code)
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	now := s.Now()
	pc.Uses = generic.Counter{}
	pc.CreatedAt = now
	pc.UpdatedAt = now
	if err := s.Store.CreatePromoCode(ctx, pc); err != nil {
		return nil, err
	}
	s.Logger.Info("promo code created",
		zap.String("code", pc.Code),
		zap.String("type", string(pc.Type)),
		zap.String("status", string(pc.Status)))
	return &pc, nil
}

func (s *Service) Get(ctx context.Context, code string) (*PromoCode, error) {
	return s.Store.GetPromoCode(ctx, NormalizeCode(code))
}

func (s *Service) List(ctx context.Context) ([]PromoCode, error) {
	return s.Store.ListPromoCodes(ctx)
}

// EffectiveStatusNow is EffectiveStatus for today in the timezone of record.
func (s *Service) EffectiveStatusNow(pc PromoCode) Status {
	return EffectiveStatus(pc, s.Calendar.Day(s.Now()))
}

func (s *Service) logInvariant(op string, err error) {
	if generic.IsInvariantViolation(err) {
		s.Logger.Error("invariant violation",
			zap.String("category", "invariant"),
			zap.String("op", op),
			zap.Error(err))
	}
}
