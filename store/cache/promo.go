package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/factory"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
)

const opPromoCode = "promo_code"

// DefaultTTL bounds how stale a cached definition may be.
const DefaultTTL = 30 * time.Second

// PromoStore is a read-through cache in front of a promo.Store. A stale
// entry can only cost a retry: Redeem still compares versions in the
// backing store, and any failed or successful write evicts the keys it touched.
type PromoStore struct {
	promo.Store
	Cache  Cache
	TTL    time.Duration
	Logger *zap.Logger

	codec *factory.PromoFactory
}

var _ promo.Store = (*PromoStore)(nil)

// NewPromoStore wraps backing. currency is the deployment currency, used for
// amounts a cached definition does not carry.
func NewPromoStore(backing promo.Store, c Cache, currency generic.Currency, logger *zap.Logger) *PromoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromoStore{
		Store:  backing,
		Cache:  c,
		TTL:    DefaultTTL,
		Logger: logger,
		codec:  factory.NewPromoFactory(currency),
	}
}

type cachedCode struct {
	Definition factory.PromoCodeJSON `json:"definition"`
	Count      int                   `json:"count"`
	Version    generic.Version       `json:"version"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func (p *PromoStore) GetPromoCode(ctx context.Context, code string) (*promo.PromoCode, error) {
	key := p.Cache.GenerateKey(opPromoCode, code)

	raw, err := p.Cache.Get(ctx, key)
	if err != nil {
		p.Logger.Warn("promo cache read failed", zap.String("code", code), zap.Error(err))
	}
	if raw != "" {
		if pc, err := p.decode(raw); err == nil {
			return pc, nil
		}
		p.Logger.Warn("promo cache entry unreadable, evicting", zap.String("code", code))
		p.evict(ctx, code)
	}

	pc, err := p.Store.GetPromoCode(ctx, code)
	if err != nil {
		return nil, err
	}
	p.fill(ctx, key, *pc)
	return pc, nil
}

func (p *PromoStore) CreatePromoCode(ctx context.Context, pc promo.PromoCode) error {
	err := p.Store.CreatePromoCode(ctx, pc)
	p.evict(ctx, pc.Code)
	return err
}

func (p *PromoStore) UpdatePromoCode(ctx context.Context, pc promo.PromoCode, expected generic.Version) error {
	err := p.Store.UpdatePromoCode(ctx, pc, expected)
	p.evict(ctx, pc.Code)
	return err
}

func (p *PromoStore) Redeem(ctx context.Context, intents []promo.RedeemIntent) error {
	err := p.Store.Redeem(ctx, intents)
	codes := make([]string, len(intents))
	for i, in := range intents {
		codes[i] = in.Code
	}
	p.evict(ctx, codes...)
	return err
}

func (p *PromoStore) fill(ctx context.Context, key string, pc promo.PromoCode) {
	b, err := json.Marshal(cachedCode{
		Definition: p.codec.ToJSON(pc),
		Count:      pc.Uses.Count,
		Version:    pc.Uses.Version,
		CreatedAt:  pc.CreatedAt,
		UpdatedAt:  pc.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := p.Cache.Set(ctx, key, string(b), p.TTL); err != nil {
		p.Logger.Warn("promo cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *PromoStore) decode(raw string) (*promo.PromoCode, error) {
	var cc cachedCode
	if err := json.Unmarshal([]byte(raw), &cc); err != nil {
		return nil, err
	}
	pc, err := p.codec.FromJSON(cc.Definition)
	if err != nil {
		return nil, err
	}
	pc.Uses = generic.Counter{Count: cc.Count, Version: cc.Version}
	pc.CreatedAt = cc.CreatedAt
	pc.UpdatedAt = cc.UpdatedAt
	return pc, nil
}

func (p *PromoStore) evict(ctx context.Context, codes ...string) {
	keys := make([]string, len(codes))
	for i, c := range codes {
		keys[i] = p.Cache.GenerateKey(opPromoCode, c)
	}
	if err := p.Cache.Delete(ctx, keys...); err != nil {
		p.Logger.Warn("promo cache eviction failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
