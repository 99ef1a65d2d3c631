package enrollment

import "github.com/warp/enrollment-engine/generic"

// =============================================================================
// COMPLETION GATE INPUTS - snapshots fetched by the caller
// =============================================================================

// FormStatus is a form-completion snapshot.
type FormStatus struct {
	Total     int
	Completed int
	Missing   []string
}

func (f FormStatus) Complete() bool {
	return f.Completed >= f.Total && len(f.Missing) == 0
}

// WaiverInstance is one waiver template's signature state.
type WaiverInstance struct {
	TemplateID string
	Signed     bool
}

// WaiverStatus is a waiver-instance snapshot. No instances means no waiver
// is required.
type WaiverStatus struct {
	Instances []WaiverInstance
}

func (w WaiverStatus) AllSigned() bool {
	return len(w.Pending()) == 0
}

// Pending returns the template ids still awaiting signature.
func (w WaiverStatus) Pending() []string {
	var out []string
	for _, i := range w.Instances {
		if !i.Signed {
			out = append(out, i.TemplateID)
		}
	}
	return out
}

// PaymentStatus is a payment-balance snapshot.
type PaymentStatus struct {
	AmountPaid generic.Money
	AmountDue  generic.Money
}

func (p PaymentStatus) Paid() bool {
	return !p.AmountDue.IsPositive()
}

// =============================================================================
// VERDICT
// =============================================================================

type Blocker string

const (
	BlockerFormsIncomplete Blocker = "FormsIncomplete"
	BlockerWaiversPending  Blocker = "WaiversPending"
	BlockerBalanceDue      Blocker = "BalanceDue"
)

// Verdict is the aggregate readiness. Blockers is an ordered set.
type Verdict struct {
	Ready    bool
	Blockers []Blocker
}

func (v Verdict) Has(b Blocker) bool {
	for _, have := range v.Blockers {
		if have == b {
			return true
		}
	}
	return false
}

// Assess is ready iff forms are complete, waivers are all signed and no
// balance is due. It never runs on its own; callers poll it after form,
// waiver and payment events.
func Assess(forms FormStatus, waivers WaiverStatus, payment PaymentStatus) Verdict {
	var blockers []Blocker
	if !forms.Complete() {
		blockers = append(blockers, BlockerFormsIncomplete)
	}
	if !waivers.AllSigned() {
		blockers = append(blockers, BlockerWaiversPending)
	}
	if !payment.Paid() {
		blockers = append(blockers, BlockerBalanceDue)
	}
	return Verdict{Ready: len(blockers) == 0, Blockers: blockers}
}
