package promo

import (
	"context"

	"github.com/warp/enrollment-engine/generic"
)

// RedeemIntent is one code to consume in a checkout. Expected is the
// version of the code the discount was evaluated against.
type RedeemIntent struct {
	Code       string
	Expected   generic.Version
	Redemption generic.Redemption
}

// Store persists promo code definitions and their redemptions.
//
// Codes are never hard-deleted; retirement is a status change through
// UpdatePromoCode.
type Store interface {
	generic.RedemptionStore

	// GetPromoCode returns a *generic.NotFoundError when code is unknown.
	GetPromoCode(ctx context.Context, code string) (*PromoCode, error)

	ListPromoCodes(ctx context.Context) ([]PromoCode, error)

	// CreatePromoCode fails with ErrDuplicateCode if the code exists.
	CreatePromoCode(ctx context.Context, pc PromoCode) error

	// UpdatePromoCode replaces the definition if the stored version equals
	// expected, storing expected+1. Use counts are not touched.
	UpdatePromoCode(ctx context.Context, pc PromoCode, expected generic.Version) error

	// Redeem atomically, for every intent: checks the stored version equals
	// Expected, increments the use count, and appends the redemption.
	// All intents commit or none do. A reused (CheckoutID, Code) fails with
	// generic.ErrDuplicateIdempotencyKey.
	Redeem(ctx context.Context, intents []RedeemIntent) error
}
