package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/refund"
)

// =============================================================================
// REFUND POLICY JSON
// =============================================================================
//
//   {
//     "full_refund_after_days": 21,
//     "full_credit_from_days": 14,
//     "credit_validity_months": 12,
//     "deposit": {"kind": "flat", "amount": "50.00"}
//   }
//
// Omitted thresholds fall back to refund.DefaultPolicy.

// RefundPolicyJSON is the JSON representation of a cancellation policy.
type RefundPolicyJSON struct {
	FullRefundAfterDays  *int         `json:"full_refund_after_days,omitempty"`
	FullCreditFromDays   *int         `json:"full_credit_from_days,omitempty"`
	CreditValidityMonths *int         `json:"credit_validity_months,omitempty"`
	Deposit              *DepositJSON `json:"deposit,omitempty"`
}

// DepositJSON: kind is flat (amount), percent (percent) or none.
type DepositJSON struct {
	Kind    string           `json:"kind"`
	Amount  string           `json:"amount,omitempty"`
	Percent *decimal.Decimal `json:"percent,omitempty"`
}

// ParseRefundPolicy parses and validates a JSON policy.
func ParseRefundPolicy(data []byte, currency generic.Currency) (refund.Policy, error) {
	var rj RefundPolicyJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return refund.Policy{}, fmt.Errorf("failed to parse refund policy JSON: %w", err)
	}
	return RefundPolicyFromJSON(rj, currency)
}

// LoadRefundPolicy reads a policy file. An empty path yields the default policy.
func LoadRefundPolicy(path string, currency generic.Currency) (refund.Policy, error) {
	if path == "" {
		return refund.DefaultPolicy(currency), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return refund.Policy{}, fmt.Errorf("read refund policy %s: %w", path, err)
	}
	return ParseRefundPolicy(data, currency)
}

func RefundPolicyFromJSON(rj RefundPolicyJSON, currency generic.Currency) (refund.Policy, error) {
	p := refund.DefaultPolicy(currency)
	if rj.FullRefundAfterDays != nil {
		p.FullRefundAfterDays = *rj.FullRefundAfterDays
	}
	if rj.FullCreditFromDays != nil {
		p.FullCreditFromDays = *rj.FullCreditFromDays
	}
	if rj.CreditValidityMonths != nil {
		p.CreditValidityMonths = *rj.CreditValidityMonths
	}

	if rj.Deposit != nil {
		switch refund.DepositKind(rj.Deposit.Kind) {
		case refund.DepositFlat:
			amount, err := generic.ParseMoney(rj.Deposit.Amount, currency)
			if err != nil {
				return refund.Policy{}, fmt.Errorf("refund policy deposit: %w", err)
			}
			p.Deposit = refund.DepositRule{Kind: refund.DepositFlat, Flat: amount}
		case refund.DepositPercent:
			if rj.Deposit.Percent == nil {
				return refund.Policy{}, fmt.Errorf("refund policy deposit: percent is required")
			}
			p.Deposit = refund.DepositRule{Kind: refund.DepositPercent, Flat: generic.Zero(currency), Percent: *rj.Deposit.Percent}
		case refund.DepositNone, "":
		default:
			return refund.Policy{}, fmt.Errorf("refund policy deposit: unknown kind %q", rj.Deposit.Kind)
		}
	}

	if err := p.Validate(); err != nil {
		return refund.Policy{}, err
	}
	return p, nil
}
