/*
Package factory provides JSON to Go conversion for promo codes and refund policies.

PURPOSE:
  Converts JSON definitions into promo.PromoCode and refund.Policy values so
  marketing can define codes and finance can tune the cancellation policy
  without code changes. The same JSON form is what the stores persist and
  what the HTTP API accepts.

JSON SCHEMA (promo code):
  {
    "code": "SPRING20",
    "type": "PERCENT",
    "percent": "20",
    "scope": {"kind": "CATEGORIES", "categories": ["first-aid"]},
    "status": "ACTIVE",
    "stacking": "EXCLUSIVE",
    "start_date": "2025-03-01",
    "end_date": "2025-03-31",
    "max_total_uses": 500,
    "max_uses_per_user": 1,
    "min_cart_subtotal": "50.00",
    "apply_to_tax": false,
    "first_purchase_only": false
  }

  Amounts are major-unit decimal strings in "currency", which defaults to
  the deployment currency.
  Omitted status defaults to ACTIVE, omitted stacking to EXCLUSIVE and
  omitted scope to GLOBAL.

USAGE:
  f := factory.NewPromoFactory(generic.USD)
  pc, err := f.ParsePromoCode(data)

SEE ALSO:
  - promo/types.go: PromoCode definition
  - policy.go: refund policy JSON
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PromoCodeJSON is the JSON representation of a promo code definition.
type PromoCodeJSON struct {
	Code            string           `json:"code" validate:"required,max=64"`
	Type            string           `json:"type" validate:"required,oneof=PERCENT FIXED_AMOUNT"`
	Percent         *decimal.Decimal `json:"percent,omitempty"`
	Amount          string           `json:"amount,omitempty"`
	Currency        string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	Scope           *ScopeJSON       `json:"scope,omitempty"`
	Status          string           `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE SCHEDULED PAUSED EXPIRED"`
	Stacking        string           `json:"stacking,omitempty" validate:"omitempty,oneof=EXCLUSIVE STACKABLE"`
	StartDate       string           `json:"start_date,omitempty"`
	EndDate         string           `json:"end_date,omitempty"`
	MaxTotalUses    *int             `json:"max_total_uses,omitempty" validate:"omitempty,min=0"`
	MaxUsesPerUser  *int             `json:"max_uses_per_user,omitempty" validate:"omitempty,min=0"`
	MinCartSubtotal string           `json:"min_cart_subtotal,omitempty"`

	ApplyToTax        bool `json:"apply_to_tax,omitempty"`
	ApplyToShipping   bool `json:"apply_to_shipping,omitempty"`
	FirstPurchaseOnly bool `json:"first_purchase_only,omitempty"`
	NewCustomersOnly  bool `json:"new_customers_only,omitempty"`
}

// ScopeJSON selects the lines a code applies to.
type ScopeJSON struct {
	Kind       string   `json:"kind" validate:"omitempty,oneof=GLOBAL COURSES CATEGORIES"`
	Courses    []string `json:"courses,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// =============================================================================
// PROMO FACTORY
// =============================================================================

// PromoFactory converts promo code JSON. Currency is the deployment currency.
type PromoFactory struct {
	Currency generic.Currency
}

func NewPromoFactory(currency generic.Currency) *PromoFactory {
	return &PromoFactory{Currency: currency}
}

// ParsePromoCode parses and validates a JSON definition.
func (f *PromoFactory) ParsePromoCode(data []byte) (*promo.PromoCode, error) {
	var pj PromoCodeJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("failed to parse promo code JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts and validates. The code is normalized. Amounts are in
// pj.Currency when set, otherwise in the factory's currency.
func (f *PromoFactory) FromJSON(pj PromoCodeJSON) (*promo.PromoCode, error) {
	currency := f.Currency
	if pj.Currency != "" {
		currency = generic.Currency(pj.Currency)
	}
	pc := &promo.PromoCode{
		Code:              promo.NormalizeCode(pj.Code),
		Type:              promo.DiscountType(pj.Type),
		Amount:            generic.Zero(currency),
		Scope:             promo.GlobalScope(),
		Status:            promo.StatusActive,
		Stacking:          promo.StackingExclusive,
		MaxTotalUses:      pj.MaxTotalUses,
		MaxUsesPerUser:    pj.MaxUsesPerUser,
		ApplyToTax:        pj.ApplyToTax,
		ApplyToShipping:   pj.ApplyToShipping,
		FirstPurchaseOnly: pj.FirstPurchaseOnly,
		NewCustomersOnly:  pj.NewCustomersOnly,
	}
	if pj.Status != "" {
		pc.Status = promo.Status(pj.Status)
	}
	if pj.Stacking != "" {
		pc.Stacking = promo.StackingPolicy(pj.Stacking)
	}

	switch pc.Type {
	case promo.TypePercent:
		if pj.Percent == nil {
			return nil, fmt.Errorf("promo code %s: percent is required for PERCENT codes", pc.Code)
		}
		pc.Percent = *pj.Percent
	case promo.TypeFixedAmount:
		amount, err := generic.ParseMoney(pj.Amount, currency)
		if err != nil {
			return nil, fmt.Errorf("promo code %s: amount: %w", pc.Code, err)
		}
		pc.Amount = amount
	}

	if pj.Scope != nil && pj.Scope.Kind != "" {
		pc.Scope = promo.Scope{Kind: promo.ScopeKind(pj.Scope.Kind)}
		for _, id := range pj.Scope.Courses {
			pc.Scope.Courses = append(pc.Scope.Courses, generic.CourseID(id))
		}
		for _, id := range pj.Scope.Categories {
			pc.Scope.Categories = append(pc.Scope.Categories, generic.CategoryID(id))
		}
	}

	var err error
	if pc.StartDate, err = parseOptionalDate(pj.StartDate); err != nil {
		return nil, fmt.Errorf("promo code %s: start_date: %w", pc.Code, err)
	}
	if pc.EndDate, err = parseOptionalDate(pj.EndDate); err != nil {
		return nil, fmt.Errorf("promo code %s: end_date: %w", pc.Code, err)
	}
	if pj.MinCartSubtotal != "" {
		min, err := generic.ParseMoney(pj.MinCartSubtotal, currency)
		if err != nil {
			return nil, fmt.Errorf("promo code %s: min_cart_subtotal: %w", pc.Code, err)
		}
		pc.MinCartSubtotal = &min
	}

	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return pc, nil
}

// ToJSON converts a PromoCode back to its JSON form. The use counter is not
// part of the definition.
func (f *PromoFactory) ToJSON(pc promo.PromoCode) PromoCodeJSON {
	pj := PromoCodeJSON{
		Code:              pc.Code,
		Type:              string(pc.Type),
		Status:            string(pc.Status),
		Stacking:          string(pc.Stacking),
		MaxTotalUses:      pc.MaxTotalUses,
		MaxUsesPerUser:    pc.MaxUsesPerUser,
		ApplyToTax:        pc.ApplyToTax,
		ApplyToShipping:   pc.ApplyToShipping,
		FirstPurchaseOnly: pc.FirstPurchaseOnly,
		NewCustomersOnly:  pc.NewCustomersOnly,
	}
	switch pc.Type {
	case promo.TypePercent:
		p := pc.Percent
		pj.Percent = &p
	case promo.TypeFixedAmount:
		pj.Amount = pc.Amount.Amount()
		pj.Currency = string(pc.Amount.Currency)
	}
	if pc.Scope.Kind != promo.ScopeGlobal {
		sj := &ScopeJSON{Kind: string(pc.Scope.Kind)}
		for _, id := range pc.Scope.Courses {
			sj.Courses = append(sj.Courses, string(id))
		}
		for _, id := range pc.Scope.Categories {
			sj.Categories = append(sj.Categories, string(id))
		}
		pj.Scope = sj
	}
	if pc.StartDate != nil {
		pj.StartDate = pc.StartDate.String()
	}
	if pc.EndDate != nil {
		pj.EndDate = pc.EndDate.String()
	}
	if pc.MinCartSubtotal != nil {
		pj.MinCartSubtotal = pc.MinCartSubtotal.Amount()
		pj.Currency = string(pc.MinCartSubtotal.Currency)
	}
	return pj
}

// EncodePromoCode is the persisted form of a definition.
func (f *PromoFactory) EncodePromoCode(pc promo.PromoCode) ([]byte, error) {
	return json.Marshal(f.ToJSON(pc))
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseOptionalDate(s string) (*generic.TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}
