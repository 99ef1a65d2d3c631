package promo

import (
	"sort"

	"github.com/warp/enrollment-engine/generic"
)

// Combined is the order-level result of applying one or more codes.
type Combined struct {
	// Applied lists the discounts that survived stacking, in application order.
	Applied []Discount

	// Replaced lists codes dropped because an EXCLUSIVE code displaced them
	// or was displaced by a later code.
	Replaced []string

	// Total is the summed discount, clamped to Base.
	Total generic.Money

	// Base is the union of the applied discounts' bases.
	Base generic.Money

	// Payable is the cart total minus Total. Never negative.
	Payable generic.Money

	// OverDiscount is set when the summed discounts exceeded Base, or any
	// single applied code exceeded its own base, and were clamped.
	OverDiscount bool
}

// Combine applies evaluated discounts to cart in order.
//
// Stacking rules:
//   - an EXCLUSIVE discount replaces everything applied before it
//   - a discount applied after an EXCLUSIVE one replaces it
//   - STACKABLE discounts add up, clamped to the union base
//   - re-applying a code already applied replaces the earlier evaluation
func Combine(cart Cart, discounts []Discount) (Combined, error) {
	var applied []Discount
	var replaced []string

	for _, d := range discounts {
		kept := applied[:0:0]
		for _, a := range applied {
			if a.Code == d.Code {
				continue
			}
			if d.Stacking == StackingExclusive || a.Stacking == StackingExclusive {
				replaced = append(replaced, a.Code)
				continue
			}
			kept = append(kept, a)
		}
		applied = append(kept, d)
	}

	base, err := unionBase(cart, applied)
	if err != nil {
		return Combined{}, err
	}

	total := generic.Zero(cart.Currency)
	clamped := false
	for _, a := range applied {
		if total, err = total.Add(a.Amount); err != nil {
			return Combined{}, err
		}
		clamped = clamped || a.OverDiscount
	}

	over, err := total.GreaterThan(base)
	if err != nil {
		return Combined{}, err
	}
	if over {
		total = base
	}

	cartTotal, err := cart.Total()
	if err != nil {
		return Combined{}, err
	}
	payable, err := cartTotal.Sub(total)
	if err != nil {
		return Combined{}, err
	}
	if payable.IsNegative() {
		return Combined{}, generic.ErrNegativePayable
	}

	return Combined{
		Applied:      applied,
		Replaced:     replaced,
		Total:        total,
		Base:         base,
		Payable:      payable,
		OverDiscount: over || clamped,
	}, nil
}

// Allocate splits Total across the applied codes in order, so that the
// per-code amounts recorded at redemption sum to exactly Total.
func (c Combined) Allocate() ([]generic.Money, error) {
	remaining := c.Total
	out := make([]generic.Money, len(c.Applied))
	for i, a := range c.Applied {
		amt, err := a.Amount.Min(remaining)
		if err != nil {
			return nil, err
		}
		out[i] = amt
		if remaining, err = remaining.Sub(amt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func unionBase(cart Cart, applied []Discount) (generic.Money, error) {
	seen := make(map[int]bool)
	var tax, shipping bool
	for _, a := range applied {
		for _, i := range a.Lines {
			seen[i] = true
		}
		tax = tax || a.IncludesTax
		shipping = shipping || a.IncludesShipping
	}
	lines := make([]int, 0, len(seen))
	for i := range seen {
		lines = append(lines, i)
	}
	sort.Ints(lines)
	return discountBase(cart, lines, tax, shipping)
}
