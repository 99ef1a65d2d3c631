package promo

import (
	"errors"
	"fmt"

	"github.com/warp/enrollment-engine/generic"
)

// Reason is why a code was rejected. The declaration order is the order in
// which the evaluator checks them.
type Reason string

const (
	ReasonNotFound              Reason = "NotFound"
	ReasonNotYetActive          Reason = "NotYetActive"
	ReasonExpired               Reason = "Expired"
	ReasonPaused                Reason = "Paused"
	ReasonTotalUsesExceeded     Reason = "TotalUsesExceeded"
	ReasonPerUserUsesExceeded   Reason = "PerUserUsesExceeded"
	ReasonBelowMinimumSubtotal  Reason = "BelowMinimumSubtotal"
	ReasonScopeMismatch         Reason = "ScopeMismatch"
	ReasonFirstPurchaseRequired Reason = "FirstPurchaseRequired"
	ReasonNewCustomerRequired   Reason = "NewCustomerRequired"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:              "This promo code does not exist.",
	ReasonNotYetActive:          "This promo code is not active yet.",
	ReasonExpired:               "This promo code has expired.",
	ReasonPaused:                "This promo code is currently paused.",
	ReasonTotalUsesExceeded:     "This promo code has reached its usage limit.",
	ReasonPerUserUsesExceeded:   "You have already used this promo code the maximum number of times.",
	ReasonBelowMinimumSubtotal:  "Your cart does not meet the minimum subtotal for this promo code.",
	ReasonScopeMismatch:         "This promo code does not apply to any course in your cart.",
	ReasonFirstPurchaseRequired: "This promo code is only valid on a first purchase.",
	ReasonNewCustomerRequired:   "This promo code is only valid for new customers.",
}

// Message is the end-user text for a reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return "This promo code cannot be applied."
}

// RejectionError is an expected, user-facing refusal of a code.
type RejectionError struct {
	Code   string
	Reason Reason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("promo code %s rejected: %s", e.Code, e.Reason)
}

func (e *RejectionError) Unwrap() error { return generic.ErrRejected }

func reject(code string, reason Reason) error {
	return &RejectionError{Code: code, Reason: reason}
}

// ReasonOf extracts the rejection reason from err, if it is a rejection.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// ErrDuplicateCode is returned when creating a code that already exists.
var ErrDuplicateCode = errors.New("promo code already exists")
