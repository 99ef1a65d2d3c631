package features

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
	"github.com/warp/enrollment-engine/refund"
)

type engineTestContext struct {
	calendar generic.Calendar
	now      time.Time

	// promo
	catalog   promo.MapCatalog
	cart      promo.Cart
	discounts []promo.Discount
	errs      []error

	// refund
	classStart time.Time
	paid       generic.Money
	deposit    generic.Money
	decision   *refund.Decision

	// enrollment
	machine    *enrollment.Machine
	enrollment enrollment.Enrollment
	input      enrollment.Input
	result     enrollment.Enrollment
	verdict    enrollment.Verdict
	err        error
}

func (c *engineTestContext) reset() {
	c.calendar = generic.UTCCalendar()
	c.now = time.Date(2025, time.March, 10, 15, 0, 0, 0, time.UTC)
	c.catalog = promo.NewCatalog()
	c.cart = promo.Cart{
		Currency: generic.USD,
		Customer: promo.Customer{UserID: "student-1"},
	}
	c.discounts = nil
	c.errs = nil
	c.classStart = time.Time{}
	c.paid = generic.Zero(generic.USD)
	c.deposit = generic.Zero(generic.USD)
	c.decision = nil
	c.machine = enrollment.NewMachine(
		refund.NewEngine(refund.DefaultPolicy(generic.USD), c.calendar), c.calendar)
	c.enrollment = enrollment.Enrollment{}
	c.input = enrollment.Input{}
	c.result = enrollment.Enrollment{}
	c.verdict = enrollment.Verdict{}
	c.err = nil
}

func usd(s string) (generic.Money, error) {
	return generic.ParseMoney(s, generic.USD)
}

// classDay places a class at 09:00 on the day n days from now.
func (c *engineTestContext) classDay(n int) time.Time {
	d := c.calendar.Day(c.now).AddDays(n).Time
	return d.Add(9 * time.Hour)
}

// =============================================================================
// PROMO STEPS
// =============================================================================

func (c *engineTestContext) todayIs(date string) error {
	tp, err := generic.ParseDate(date)
	if err != nil {
		return err
	}
	c.now = tp.Time.Add(15 * time.Hour)
	return nil
}

func (c *engineTestContext) addCode(kind, code, value string, scope promo.Scope) error {
	pc := promo.PromoCode{
		Code:     promo.NormalizeCode(code),
		Type:     promo.DiscountType(kind),
		Scope:    scope,
		Status:   promo.StatusActive,
		Stacking: promo.StackingStackable,
	}
	switch pc.Type {
	case promo.TypePercent:
		p, err := decimal.NewFromString(value)
		if err != nil {
			return err
		}
		pc.Percent = p
	default:
		m, err := usd(value)
		if err != nil {
			return err
		}
		pc.Amount = m
	}
	if err := pc.Validate(); err != nil {
		return err
	}
	c.catalog[pc.Code] = pc
	return nil
}

func (c *engineTestContext) aGlobalPromoCode(kind, code, value string) error {
	return c.addCode(kind, code, value, promo.GlobalScope())
}

func (c *engineTestContext) aCoursePromoCode(kind, code, value, course string) error {
	return c.addCode(kind, code, value, promo.Scope{
		Kind:    promo.ScopeCourses,
		Courses: []generic.CourseID{generic.CourseID(course)},
	})
}

func (c *engineTestContext) theCodeEndedOn(code, date string) error {
	pc, ok := c.catalog.Lookup(code)
	if !ok {
		return fmt.Errorf("unknown code %s", code)
	}
	end, err := generic.ParseDate(date)
	if err != nil {
		return err
	}
	pc.EndDate = &end
	c.catalog[pc.Code] = pc
	return nil
}

func (c *engineTestContext) theCodeReachedItsTotalLimit(code string) error {
	pc, ok := c.catalog.Lookup(code)
	if !ok {
		return fmt.Errorf("unknown code %s", code)
	}
	limit := 1
	pc.MaxTotalUses = &limit
	pc.Uses = generic.Counter{Count: 1, Version: 1}
	c.catalog[pc.Code] = pc
	return nil
}

func (c *engineTestContext) aCartLine(course, price string) error {
	m, err := usd(price)
	if err != nil {
		return err
	}
	c.cart.Lines = append(c.cart.Lines, promo.CartLine{
		CourseID:  generic.CourseID(course),
		UnitPrice: m,
		Quantity:  1,
	})
	return nil
}

func (c *engineTestContext) evaluate(code string) {
	ev := promo.NewEvaluator(c.catalog, c.calendar)
	history := generic.NewRedemptionHistory(promo.NormalizeCode(code), nil)
	d, err := ev.Evaluate(code, c.cart, history, c.now)
	c.discounts = append(c.discounts, d)
	c.errs = append(c.errs, err)
}

func (c *engineTestContext) iEvaluate(code string) error {
	c.evaluate(code)
	return nil
}

func (c *engineTestContext) iEvaluateTwice(code string) error {
	c.evaluate(code)
	c.evaluate(code)
	return nil
}

func (c *engineTestContext) lastDiscount() (promo.Discount, error) {
	if len(c.discounts) == 0 {
		return promo.Discount{}, errors.New("nothing was evaluated")
	}
	last := len(c.discounts) - 1
	if c.errs[last] != nil {
		return promo.Discount{}, fmt.Errorf("expected a discount, got %v", c.errs[last])
	}
	return c.discounts[last], nil
}

func (c *engineTestContext) theDiscountIs(amount string) error {
	d, err := c.lastDiscount()
	if err != nil {
		return err
	}
	if d.Amount.Amount() != amount {
		return fmt.Errorf("expected discount %s, got %s", amount, d.Amount.Amount())
	}
	return nil
}

func (c *engineTestContext) thePayableAmountIs(amount string) error {
	d, err := c.lastDiscount()
	if err != nil {
		return err
	}
	if d.Payable.Amount() != amount {
		return fmt.Errorf("expected payable %s, got %s", amount, d.Payable.Amount())
	}
	return nil
}

func (c *engineTestContext) theCodeIsRejectedWith(reason string) error {
	if len(c.errs) == 0 {
		return errors.New("nothing was evaluated")
	}
	got, ok := promo.ReasonOf(c.errs[len(c.errs)-1])
	if !ok {
		return fmt.Errorf("expected rejection %s, got %v", reason, c.errs[len(c.errs)-1])
	}
	if string(got) != reason {
		return fmt.Errorf("expected rejection %s, got %s", reason, got)
	}
	return nil
}

func (c *engineTestContext) bothEvaluationsAreIdentical() error {
	if len(c.discounts) != 2 {
		return fmt.Errorf("expected two evaluations, got %d", len(c.discounts))
	}
	if c.errs[0] != nil || c.errs[1] != nil {
		return fmt.Errorf("unexpected rejection: %v / %v", c.errs[0], c.errs[1])
	}
	if !reflect.DeepEqual(c.discounts[0], c.discounts[1]) {
		return fmt.Errorf("evaluations differ: %+v vs %+v", c.discounts[0], c.discounts[1])
	}
	return nil
}

func (c *engineTestContext) theUseCountIs(code string, count int) error {
	pc, ok := c.catalog.Lookup(code)
	if !ok {
		return fmt.Errorf("unknown code %s", code)
	}
	if pc.Uses.Count != count {
		return fmt.Errorf("expected %d uses of %s, got %d", count, code, pc.Uses.Count)
	}
	return nil
}

// =============================================================================
// REFUND STEPS
// =============================================================================

func (c *engineTestContext) theClassStartsIn(days int) error {
	c.classStart = c.classDay(days)
	return nil
}

func (c *engineTestContext) theStudentPaid(paid, deposit string) error {
	var err error
	if c.paid, err = usd(paid); err != nil {
		return err
	}
	c.deposit, err = usd(deposit)
	return err
}

func (c *engineTestContext) theStudentCancels() error {
	engine := refund.NewEngine(refund.DefaultPolicy(generic.USD), c.calendar)
	c.decision, c.err = engine.Decide(c.classStart, c.now, c.paid, c.deposit)
	return nil
}

func (c *engineTestContext) theOutcomeIs(outcome string) error {
	var past *refund.PastStartError
	switch {
	case errors.As(c.err, &past):
		if outcome != string(refund.TierIneligiblePastStart) {
			return fmt.Errorf("expected %s, got %v", outcome, c.err)
		}
		return nil
	case c.err != nil:
		return fmt.Errorf("unexpected error: %v", c.err)
	}
	if string(c.decision.Tier) != outcome {
		return fmt.Errorf("expected tier %s, got %s (%d days)", outcome, c.decision.Tier, c.decision.DaysUntilClass)
	}
	return nil
}

func (c *engineTestContext) theRefundAmountIs(amount string) error {
	if c.decision == nil {
		return fmt.Errorf("no decision: %v", c.err)
	}
	if c.decision.RefundAmount.Amount() != amount {
		return fmt.Errorf("expected refund %s, got %s", amount, c.decision.RefundAmount.Amount())
	}
	return nil
}

func (c *engineTestContext) theCreditAmountIs(amount string) error {
	if c.decision == nil {
		return fmt.Errorf("no decision: %v", c.err)
	}
	if c.decision.CreditAmount.Amount() != amount {
		return fmt.Errorf("expected credit %s, got %s", amount, c.decision.CreditAmount.Amount())
	}
	return nil
}

func (c *engineTestContext) thePlatformCoversTheFee() error {
	if c.decision == nil || !c.decision.FeeCoveredByPlatform {
		return errors.New("expected the platform to cover the processing fee")
	}
	return nil
}

func (c *engineTestContext) noDecisionIsProduced() error {
	if c.decision != nil {
		return fmt.Errorf("expected no decision, got %+v", *c.decision)
	}
	return nil
}

// =============================================================================
// ENROLLMENT STEPS
// =============================================================================

func (c *engineTestContext) anEnrollment(status string, sched enrollment.Schedule) {
	c.enrollment = enrollment.Enrollment{
		ID:         "enr-1",
		StudentID:  "student-1",
		CourseID:   sched.CourseID,
		ScheduleID: sched.ID,
		Status:     enrollment.Status(status),
		AmountPaid: sched.Price,
		AmountDue:  generic.Zero(generic.USD),
		Deposit:    generic.Zero(generic.USD),
		TransferTo: "",
	}
	c.input = enrollment.Input{
		Now:      c.now,
		Schedule: &sched,
		Forms:    enrollment.FormStatus{},
	}
}

func (c *engineTestContext) anEnrollmentOnAFinishedCourse(status string) error {
	c.anEnrollment(status, enrollment.Schedule{
		ID:       "sched-finished",
		CourseID: "first-aid-101",
		StartsAt: c.classDay(-3),
		EndsAt:   c.classDay(-1),
		Price:    generic.MustParseMoney("200.00", generic.USD),
	})
	return nil
}

func (c *engineTestContext) anEnrollmentOnACourseStartingIn(status string, days int) error {
	c.anEnrollment(status, enrollment.Schedule{
		ID:       "sched-upcoming",
		CourseID: "first-aid-101",
		StartsAt: c.classDay(days),
		EndsAt:   c.classDay(days + 1),
		Price:    generic.MustParseMoney("200.00", generic.USD),
	})
	return nil
}

func (c *engineTestContext) theFormsAreComplete() error {
	c.input.Forms = enrollment.FormStatus{Total: 2, Completed: 2}
	return nil
}

func (c *engineTestContext) theWaiverIs(template, state string) error {
	c.input.Waivers.Instances = append(c.input.Waivers.Instances, enrollment.WaiverInstance{
		TemplateID: template,
		Signed:     state == "signed",
	})
	return nil
}

func (c *engineTestContext) theEventIsApplied(event string) error {
	c.result, c.err = c.machine.Transition(c.enrollment, enrollment.Event(event), c.input)
	return nil
}

func (c *engineTestContext) theEnrollmentIs(status string) error {
	if c.err != nil {
		return fmt.Errorf("transition failed: %v", c.err)
	}
	if string(c.result.Status) != status {
		return fmt.Errorf("expected %s, got %s", status, c.result.Status)
	}
	return nil
}

func (c *engineTestContext) theRecordedTierIs(tier string) error {
	if c.result.Cancellation == nil {
		return errors.New("no cancellation decision recorded")
	}
	if string(c.result.Cancellation.Tier) != tier {
		return fmt.Errorf("expected tier %s, got %s", tier, c.result.Cancellation.Tier)
	}
	return nil
}

func (c *engineTestContext) refusedWithBlockers(list string) error {
	var gate *enrollment.GateNotSatisfiedError
	if !errors.As(c.err, &gate) {
		return fmt.Errorf("expected the completion gate to refuse, got %v", c.err)
	}
	return sameBlockers(list, gate.Blockers)
}

func (c *engineTestContext) refusedUntilAcknowledged() error {
	if !errors.Is(c.err, enrollment.ErrCreditTermsNotAcknowledged) {
		return fmt.Errorf("expected credit terms refusal, got %v", c.err)
	}
	if !generic.IsRejection(c.err) {
		return errors.New("credit terms refusal must be a rejection")
	}
	return nil
}

func (c *engineTestContext) theTransitionIsInvalid() error {
	var invalid *enrollment.InvalidTransitionError
	if !errors.As(c.err, &invalid) {
		return fmt.Errorf("expected an invalid transition, got %v", c.err)
	}
	if !generic.IsInvariantViolation(c.err) {
		return errors.New("an invalid transition must be an invariant violation")
	}
	return nil
}

func (c *engineTestContext) gateSnapshot(forms, waivers, due string) error {
	c.input.Forms = enrollment.FormStatus{Total: 2, Completed: 2}
	if forms != "yes" {
		c.input.Forms = enrollment.FormStatus{Total: 2, Completed: 1, Missing: []string{"medical"}}
	}
	c.input.Waivers = enrollment.WaiverStatus{Instances: []enrollment.WaiverInstance{
		{TemplateID: "liability", Signed: waivers == "yes"},
	}}
	owed, err := usd(due)
	if err != nil {
		return err
	}
	c.enrollment.AmountPaid = generic.MustParseMoney("100.00", generic.USD)
	c.enrollment.AmountDue = owed
	return nil
}

func (c *engineTestContext) theGateIsAssessed() error {
	c.verdict = enrollment.Assess(c.input.Forms, c.input.Waivers, c.enrollment.Payment())
	return nil
}

func (c *engineTestContext) theGateBlockersAre(list string) error {
	if err := sameBlockers(list, c.verdict.Blockers); err != nil {
		return err
	}
	if c.verdict.Ready != (list == "") {
		return fmt.Errorf("ready=%v does not match blockers %q", c.verdict.Ready, list)
	}
	return nil
}

func sameBlockers(list string, got []enrollment.Blocker) error {
	names := make([]string, len(got))
	for i, b := range got {
		names[i] = string(b)
	}
	if strings.Join(names, ",") != strings.ReplaceAll(list, " ", "") {
		return fmt.Errorf("expected blockers %q, got %v", list, names)
	}
	return nil
}

// =============================================================================
// SUITE
// =============================================================================

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &engineTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^today is (\d{4}-\d{2}-\d{2})$`, tc.todayIs)
	ctx.Step(`^a (PERCENT|FIXED_AMOUNT) promo code "([^"]*)" worth ([\d.]+) on scope GLOBAL$`, tc.aGlobalPromoCode)
	ctx.Step(`^a (PERCENT|FIXED_AMOUNT) promo code "([^"]*)" worth ([\d.]+) on scope COURSES "([^"]*)"$`, tc.aCoursePromoCode)
	ctx.Step(`^the code "([^"]*)" ended on (\d{4}-\d{2}-\d{2})$`, tc.theCodeEndedOn)
	ctx.Step(`^the code "([^"]*)" has reached its total use limit$`, tc.theCodeReachedItsTotalLimit)
	ctx.Step(`^a cart with a "([^"]*)" line of ([\d.]+)$`, tc.aCartLine)
	ctx.Step(`^the class starts in (-?\d+) days$`, tc.theClassStartsIn)
	ctx.Step(`^the student paid ([\d.]+) with a deposit of ([\d.]+)$`, tc.theStudentPaid)
	ctx.Step(`^a "([^"]*)" enrollment on a course that ended yesterday$`, tc.anEnrollmentOnAFinishedCourse)
	ctx.Step(`^a "([^"]*)" enrollment on a course starting in (-?\d+) days$`, tc.anEnrollmentOnACourseStartingIn)
	ctx.Step(`^the forms are complete$`, tc.theFormsAreComplete)
	ctx.Step(`^the waiver "([^"]*)" is (signed|unsigned)$`, tc.theWaiverIs)
	ctx.Step(`^forms complete "([^"]*)", waivers signed "([^"]*)" and balance due "([^"]*)"$`, tc.gateSnapshot)

	// When steps
	ctx.Step(`^I evaluate "([^"]*)"$`, tc.iEvaluate)
	ctx.Step(`^I evaluate "([^"]*)" twice$`, tc.iEvaluateTwice)
	ctx.Step(`^the student cancels$`, tc.theStudentCancels)
	ctx.Step(`^the "([^"]*)" event is applied$`, tc.theEventIsApplied)
	ctx.Step(`^the gate is assessed$`, tc.theGateIsAssessed)

	// Then steps
	ctx.Step(`^the discount is ([\d.]+)$`, tc.theDiscountIs)
	ctx.Step(`^the payable amount is ([\d.]+)$`, tc.thePayableAmountIs)
	ctx.Step(`^the code is rejected with "([^"]*)"$`, tc.theCodeIsRejectedWith)
	ctx.Step(`^both evaluations are identical$`, tc.bothEvaluationsAreIdentical)
	ctx.Step(`^the use count of "([^"]*)" is (\d+)$`, tc.theUseCountIs)
	ctx.Step(`^the outcome is ([A-Z_]+)$`, tc.theOutcomeIs)
	ctx.Step(`^the refund amount is ([\d.]+)$`, tc.theRefundAmountIs)
	ctx.Step(`^the credit amount is ([\d.]+)$`, tc.theCreditAmountIs)
	ctx.Step(`^the platform covers the fee$`, tc.thePlatformCoversTheFee)
	ctx.Step(`^no decision is produced$`, tc.noDecisionIsProduced)
	ctx.Step(`^the enrollment is "([^"]*)"$`, tc.theEnrollmentIs)
	ctx.Step(`^the recorded tier is ([A-Z_]+)$`, tc.theRecordedTierIs)
	ctx.Step(`^the transition is refused with blockers "([^"]*)"$`, tc.refusedWithBlockers)
	ctx.Step(`^the transition is refused until credit terms are acknowledged$`, tc.refusedUntilAcknowledged)
	ctx.Step(`^the transition is invalid$`, tc.theTransitionIsInvalid)
	ctx.Step(`^the gate blockers are "([^"]*)"$`, tc.theGateBlockersAre)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"promo.feature", "refund.feature", "enrollment.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
