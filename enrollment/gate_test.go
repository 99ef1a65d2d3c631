package enrollment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/enrollment-engine/enrollment"
)

func TestAssess(t *testing.T) {
	complete := enrollment.FormStatus{Total: 3, Completed: 3}
	incomplete := enrollment.FormStatus{Total: 3, Completed: 2, Missing: []string{"emergency-contact"}}
	signed := enrollment.WaiverStatus{Instances: []enrollment.WaiverInstance{{TemplateID: "liability", Signed: true}}}
	unsigned := enrollment.WaiverStatus{Instances: []enrollment.WaiverInstance{
		{TemplateID: "liability", Signed: true},
		{TemplateID: "photo-release"},
	}}
	paid := enrollment.PaymentStatus{AmountPaid: usd("200.00"), AmountDue: usd("0.00")}
	owing := enrollment.PaymentStatus{AmountPaid: usd("150.00"), AmountDue: usd("50.00")}

	tests := []struct {
		name    string
		forms   enrollment.FormStatus
		waivers enrollment.WaiverStatus
		payment enrollment.PaymentStatus
		want    []enrollment.Blocker
	}{
		{"ready", complete, signed, paid, nil},
		{"no waivers required", complete, enrollment.WaiverStatus{}, paid, nil},
		{"forms", incomplete, signed, paid, []enrollment.Blocker{enrollment.BlockerFormsIncomplete}},
		{"waivers", complete, unsigned, paid, []enrollment.Blocker{enrollment.BlockerWaiversPending}},
		{"balance", complete, signed, owing, []enrollment.Blocker{enrollment.BlockerBalanceDue}},
		{"everything", incomplete, unsigned, owing, []enrollment.Blocker{
			enrollment.BlockerFormsIncomplete, enrollment.BlockerWaiversPending, enrollment.BlockerBalanceDue,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := enrollment.Assess(tt.forms, tt.waivers, tt.payment)

			assert.Equal(t, tt.want, v.Blockers)
			assert.Equal(t, len(tt.want) == 0, v.Ready)
			for _, b := range tt.want {
				assert.True(t, v.Has(b))
			}
		})
	}
}

func TestAssess_BlockersFlipWithSnapshots(t *testing.T) {
	// GIVEN: Forms and balance outstanding
	forms := enrollment.FormStatus{Total: 2, Completed: 1, Missing: []string{"medical"}}
	payment := enrollment.PaymentStatus{AmountPaid: usd("50.00"), AmountDue: usd("30.00")}
	v := enrollment.Assess(forms, enrollment.WaiverStatus{}, payment)
	assert.False(t, v.Ready)

	// WHEN: The missing form arrives
	forms = enrollment.FormStatus{Total: 2, Completed: 2}
	v = enrollment.Assess(forms, enrollment.WaiverStatus{}, payment)
	assert.Equal(t, []enrollment.Blocker{enrollment.BlockerBalanceDue}, v.Blockers)

	// AND: The balance is paid
	payment = enrollment.PaymentStatus{AmountPaid: usd("80.00"), AmountDue: usd("0.00")}
	v = enrollment.Assess(forms, enrollment.WaiverStatus{}, payment)

	// THEN: The gate opens
	assert.True(t, v.Ready)
	assert.Empty(t, v.Blockers)
}

func TestWaiverStatus_Pending(t *testing.T) {
	w := enrollment.WaiverStatus{Instances: []enrollment.WaiverInstance{
		{TemplateID: "a", Signed: true},
		{TemplateID: "b"},
		{TemplateID: "c"},
	}}
	assert.Equal(t, []string{"b", "c"}, w.Pending())
	assert.False(t, w.AllSigned())
}

func TestFormStatus_MissingListWins(t *testing.T) {
	f := enrollment.FormStatus{Total: 1, Completed: 1, Missing: []string{"medical"}}
	assert.False(t, f.Complete())
}
