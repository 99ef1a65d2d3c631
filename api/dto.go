/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract: amounts travel as
  major-unit decimal strings ("149.99"), never as floats, and enums travel
  as their string values.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Promo codes:
    PromoCodeDTO (wraps factory.PromoCodeJSON)

  Carts:
    CartDTO, CartLineDTO, CustomerDTO, EvaluateCartRequest, QuoteDTO,
    CheckoutRequest, CheckoutDTO

  Refunds:
    RefundQuoteRequest, DecisionDTO

  Enrollments:
    ScheduleRequest, ScheduleDTO, CreateEnrollmentRequest, EnrollmentDTO,
    BalanceRequest, GateRequest, VerdictDTO, EventRequest

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  h.decode, which decodes and validates in one step; amount parsing and
  currency checks happen in the conversion helpers below.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/promo.go: PromoCodeJSON type
*/
package api

import (
	"time"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/factory"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
	"github.com/warp/enrollment-engine/refund"
)

// =============================================================================
// SHARED
// =============================================================================

// MoneyDTO is an amount in major units with its currency.
type MoneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// PROMO CODES
// =============================================================================

// PromoCodeDTO is a definition plus its live state.
type PromoCodeDTO struct {
	factory.PromoCodeJSON
	EffectiveStatus string    `json:"effective_status"`
	UseCount        int       `json:"use_count"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// =============================================================================
// CARTS & CHECKOUT
// =============================================================================

type CartLineDTO struct {
	CourseID    string   `json:"course_id" validate:"required"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	UnitPrice   string   `json:"unit_price" validate:"required,numeric"`
	Quantity    int      `json:"quantity" validate:"required,min=1"`
}

type CustomerDTO struct {
	UserID          string `json:"user_id" validate:"required"`
	IsFirstPurchase bool   `json:"is_first_purchase"`
	IsNewCustomer   bool   `json:"is_new_customer"`
}

// CartDTO: currency defaults to the deployment currency.
type CartDTO struct {
	Currency string        `json:"currency,omitempty" validate:"omitempty,len=3"`
	Lines    []CartLineDTO `json:"lines" validate:"required,min=1,dive"`
	Tax      string        `json:"tax,omitempty" validate:"omitempty,numeric"`
	Shipping string        `json:"shipping,omitempty" validate:"omitempty,numeric"`
	Customer CustomerDTO   `json:"customer"`
}

type EvaluateCartRequest struct {
	Codes []string `json:"codes" validate:"required,min=1,dive,required"`
	Cart  CartDTO  `json:"cart"`
}

// EvaluationDTO is the outcome for one submitted code.
type EvaluationDTO struct {
	Code     string    `json:"code"`
	Accepted bool      `json:"accepted"`
	Discount *MoneyDTO `json:"discount,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message,omitempty"`
}

type QuoteDTO struct {
	Evaluations  []EvaluationDTO `json:"evaluations"`
	Applied      []string        `json:"applied"`
	Replaced     []string        `json:"replaced,omitempty"`
	Discount     MoneyDTO        `json:"discount"`
	Base         MoneyDTO        `json:"base"`
	Payable      MoneyDTO        `json:"payable"`
	OverDiscount bool            `json:"over_discount"`
}

type CheckoutRequest struct {
	CheckoutID string   `json:"checkout_id" validate:"required,max=128"`
	Codes      []string `json:"codes" validate:"omitempty,dive,required"`
	Cart       CartDTO  `json:"cart"`
}

type RedemptionDTO struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	UserID     string    `json:"user_id"`
	Discount   MoneyDTO  `json:"discount"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

type CheckoutDTO struct {
	CheckoutID  string          `json:"checkout_id"`
	Replayed    bool            `json:"replayed"`
	Redemptions []RedemptionDTO `json:"redemptions"`
	Quote       *QuoteDTO       `json:"quote,omitempty"`
}

// =============================================================================
// REFUNDS
// =============================================================================

// RefundQuoteRequest: request_date defaults to now; deposit defaults to zero.
type RefundQuoteRequest struct {
	ClassStart  time.Time  `json:"class_start" validate:"required"`
	RequestDate *time.Time `json:"request_date,omitempty"`
	AmountPaid  string     `json:"amount_paid" validate:"required,numeric"`
	Deposit     string     `json:"deposit,omitempty" validate:"omitempty,numeric"`
	Currency    string     `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type DecisionDTO struct {
	Eligible             bool     `json:"eligible"`
	Tier                 string   `json:"tier"`
	DaysUntilClass       int      `json:"days_until_class"`
	RefundAmount         MoneyDTO `json:"refund_amount"`
	CreditAmount         MoneyDTO `json:"credit_amount"`
	ForfeitedDeposit     MoneyDTO `json:"forfeited_deposit"`
	FeeCoveredByPlatform bool     `json:"fee_covered_by_platform"`
	CreditExpiresAt      string   `json:"credit_expires_at,omitempty"`
}

// =============================================================================
// SCHEDULES & ENROLLMENTS
// =============================================================================

type ScheduleRequest struct {
	CourseID string    `json:"course_id" validate:"required"`
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required,gtefield=StartsAt"`
	Price    string    `json:"price" validate:"required,numeric"`
	Currency string    `json:"currency,omitempty" validate:"omitempty,len=3"`
}

type ScheduleDTO struct {
	ID       string    `json:"id"`
	CourseID string    `json:"course_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Price    MoneyDTO  `json:"price"`
}

type CreateEnrollmentRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	ScheduleID string `json:"schedule_id" validate:"required"`
}

type EnrollmentDTO struct {
	ID               string       `json:"id"`
	StudentID        string       `json:"student_id"`
	CourseID         string       `json:"course_id"`
	ScheduleID       string       `json:"schedule_id,omitempty"`
	Status           string       `json:"status"`
	AmountPaid       MoneyDTO     `json:"amount_paid"`
	AmountDue        MoneyDTO     `json:"amount_due"`
	Deposit          MoneyDTO     `json:"deposit"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	HeldFromSchedule string       `json:"held_from_schedule,omitempty"`
	TransferTo       string       `json:"transfer_to,omitempty"`
	Cancellation     *DecisionDTO `json:"cancellation,omitempty"`
	Version          int64        `json:"version"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// BalanceRequest is a payment-balance snapshot from the payment system.
type BalanceRequest struct {
	AmountPaid string `json:"amount_paid" validate:"required,numeric"`
	AmountDue  string `json:"amount_due" validate:"required,numeric"`
}

type FormsDTO struct {
	Total     int      `json:"total" validate:"min=0"`
	Completed int      `json:"completed" validate:"min=0"`
	Missing   []string `json:"missing,omitempty"`
}

type WaiverDTO struct {
	TemplateID string `json:"template_id" validate:"required"`
	Signed     bool   `json:"signed"`
}

type GateRequest struct {
	Forms   FormsDTO    `json:"forms"`
	Waivers []WaiverDTO `json:"waivers,omitempty" validate:"omitempty,dive"`
}

type VerdictDTO struct {
	Ready          bool     `json:"ready"`
	Blockers       []string `json:"blockers"`
	MissingForms   []string `json:"missing_forms,omitempty"`
	PendingWaivers []string `json:"pending_waivers,omitempty"`
}

type EventRequest struct {
	Event                  string      `json:"event" validate:"required,oneof=payment_confirmed complete cancel place_on_hold resume request_transfer confirm_transfer withdraw_transfer"`
	PaymentConfirmation    string      `json:"payment_confirmation,omitempty"`
	Forms                  FormsDTO    `json:"forms"`
	Waivers                []WaiverDTO `json:"waivers,omitempty" validate:"omitempty,dive"`
	AcknowledgeCreditTerms bool        `json:"acknowledge_credit_terms"`
	NewScheduleID          string      `json:"new_schedule_id,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toMoneyDTO(m generic.Money) MoneyDTO {
	return MoneyDTO{Amount: m.Amount(), Currency: string(m.Currency)}
}

func (h *Handler) toPromoCodeDTO(pc promo.PromoCode) PromoCodeDTO {
	return PromoCodeDTO{
		PromoCodeJSON:   h.PromoFactory.ToJSON(pc),
		EffectiveStatus: string(h.Promos.EffectiveStatusNow(pc)),
		UseCount:        pc.Uses.Count,
		Version:         int64(pc.Uses.Version),
		CreatedAt:       pc.CreatedAt,
		UpdatedAt:       pc.UpdatedAt,
	}
}

func toQuoteDTO(q promo.Quote) QuoteDTO {
	dto := QuoteDTO{
		Evaluations:  make([]EvaluationDTO, len(q.Evaluations)),
		Applied:      make([]string, len(q.Combined.Applied)),
		Replaced:     q.Combined.Replaced,
		Discount:     toMoneyDTO(q.Combined.Total),
		Base:         toMoneyDTO(q.Combined.Base),
		Payable:      toMoneyDTO(q.Combined.Payable),
		OverDiscount: q.Combined.OverDiscount,
	}
	for i, ev := range q.Evaluations {
		e := EvaluationDTO{Code: ev.Code}
		if ev.Discount != nil {
			amt := toMoneyDTO(ev.Discount.Amount)
			e.Accepted = true
			e.Discount = &amt
		}
		if ev.Rejection != nil {
			e.Reason = string(ev.Rejection.Reason)
			e.Message = ev.Rejection.Reason.Message()
		}
		dto.Evaluations[i] = e
	}
	for i, d := range q.Combined.Applied {
		dto.Applied[i] = d.Code
	}
	return dto
}

func toRedemptionDTOs(rs []generic.Redemption) []RedemptionDTO {
	dtos := make([]RedemptionDTO, len(rs))
	for i, r := range rs {
		dtos[i] = RedemptionDTO{
			ID:         string(r.ID),
			Code:       r.Code,
			UserID:     string(r.UserID),
			Discount:   toMoneyDTO(r.Discount),
			RedeemedAt: r.RedeemedAt,
		}
	}
	return dtos
}

func toDecisionDTO(d refund.Decision) DecisionDTO {
	dto := DecisionDTO{
		Eligible:             d.Eligible,
		Tier:                 string(d.Tier),
		DaysUntilClass:       d.DaysUntilClass,
		RefundAmount:         toMoneyDTO(d.RefundAmount),
		CreditAmount:         toMoneyDTO(d.CreditAmount),
		ForfeitedDeposit:     toMoneyDTO(d.ForfeitedDeposit),
		FeeCoveredByPlatform: d.FeeCoveredByPlatform,
	}
	if d.CreditExpiresAt != nil {
		dto.CreditExpiresAt = d.CreditExpiresAt.String()
	}
	return dto
}

func toScheduleDTO(s enrollment.Schedule) ScheduleDTO {
	return ScheduleDTO{
		ID:       string(s.ID),
		CourseID: string(s.CourseID),
		StartsAt: s.StartsAt,
		EndsAt:   s.EndsAt,
		Price:    toMoneyDTO(s.Price),
	}
}

func toEnrollmentDTO(e enrollment.Enrollment) EnrollmentDTO {
	dto := EnrollmentDTO{
		ID:               string(e.ID),
		StudentID:        string(e.StudentID),
		CourseID:         string(e.CourseID),
		ScheduleID:       string(e.ScheduleID),
		Status:           string(e.Status),
		AmountPaid:       toMoneyDTO(e.AmountPaid),
		AmountDue:        toMoneyDTO(e.AmountDue),
		Deposit:          toMoneyDTO(e.Deposit),
		PaymentReference: e.PaymentReference,
		HeldFromSchedule: string(e.HeldFromSchedule),
		TransferTo:       string(e.TransferTo),
		Version:          int64(e.Version),
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
	if e.Cancellation != nil {
		d := toDecisionDTO(*e.Cancellation)
		dto.Cancellation = &d
	}
	return dto
}

func toVerdictDTO(v enrollment.Verdict, forms enrollment.FormStatus, waivers enrollment.WaiverStatus) VerdictDTO {
	dto := VerdictDTO{Ready: v.Ready, Blockers: make([]string, len(v.Blockers))}
	for i, b := range v.Blockers {
		dto.Blockers[i] = string(b)
	}
	if v.Has(enrollment.BlockerFormsIncomplete) {
		dto.MissingForms = forms.Missing
	}
	if v.Has(enrollment.BlockerWaiversPending) {
		dto.PendingWaivers = waivers.Pending()
	}
	return dto
}

func toFormStatus(f FormsDTO) enrollment.FormStatus {
	return enrollment.FormStatus{Total: f.Total, Completed: f.Completed, Missing: f.Missing}
}

func toWaiverStatus(ws []WaiverDTO) enrollment.WaiverStatus {
	out := enrollment.WaiverStatus{Instances: make([]enrollment.WaiverInstance, len(ws))}
	for i, w := range ws {
		out.Instances[i] = enrollment.WaiverInstance{TemplateID: w.TemplateID, Signed: w.Signed}
	}
	return out
}
