/*
handlers.go - HTTP API handlers for the enrollment commerce engine

PURPOSE:
  Exposes the promo, refund and enrollment services via REST API. Handles
  HTTP request/response, JSON serialization and validation, and delegates
  every decision to the domain packages.

ENDPOINTS:
  Promo codes:
    GET    /api/promo-codes                 List definitions
    POST   /api/promo-codes                 Create from factory JSON
    GET    /api/promo-codes/{code}          Definition + effective status
    POST   /api/promo-codes/{code}/retire   Soft retire (status EXPIRED)

  Carts:
    POST   /api/carts/evaluate              Evaluate codes, no side effects
    POST   /api/checkout                    Redeem codes, idempotent by checkout_id

  Refunds:
    POST   /api/refunds/quote               Refund decision for a cancellation

  Enrollments:
    PUT    /api/schedules/{id}              Sync schedule reference data
    POST   /api/enrollments                 Create pending enrollment
    GET    /api/enrollments/{id}            Fetch
    POST   /api/enrollments/{id}/balance    Payment balance snapshot
    POST   /api/enrollments/{id}/gate       Assess completion gate
    POST   /api/enrollments/{id}/events     Apply lifecycle event

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Promos, Enrollments: services that own every store write
  - Refunds: the refund engine (pure)
  - Schedules: reference data store
  - PromoFactory: JSON to PromoCode conversion

REQUEST FLOW:
  1. Decode and validate the body (h.decode)
  2. Convert DTO amounts to Money in the deployment currency
  3. Call the service
  4. Serialize response, or map the error category to a status (errors.go)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: error category to HTTP status
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/factory"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
	"github.com/warp/enrollment-engine/refund"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Promos       *promo.Service
	Enrollments  *enrollment.Service
	Refunds      *refund.Engine
	Schedules    enrollment.ScheduleStore
	PromoFactory *factory.PromoFactory
	Currency     generic.Currency
	Logger       *zap.Logger

	// Resetter clears storage before a scenario load. Nil disables resets.
	Resetter Resetter

	// Now defaults to time.Now.
	Now func() time.Time

	validate *validator.Validate

	// scenarioMu serializes scenario loads and guards currentScenario.
	scenarioMu      sync.RWMutex
	currentScenario string
}

// NewHandler wires the services. The refund engine is the one the
// enrollment machine consults, so quotes and cancellations always agree.
func NewHandler(promos *promo.Service, enrollments *enrollment.Service, schedules enrollment.ScheduleStore, currency generic.Currency, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Promos:       promos,
		Enrollments:  enrollments,
		Refunds:      enrollments.Machine.Refunds,
		Schedules:    schedules,
		PromoFactory: factory.NewPromoFactory(currency),
		Currency:     currency,
		Logger:       logger,
		Now:          time.Now,
		validate:     validator.New(),
	}
}

// =============================================================================
// PROMO CODE HANDLERS
// =============================================================================

// ListPromoCodes returns every definition, retired ones included.
func (h *Handler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Promos.List(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]PromoCodeDTO, len(codes))
	for i, pc := range codes {
		dtos[i] = h.toPromoCodeDTO(pc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePromoCode accepts the factory JSON form.
func (h *Handler) CreatePromoCode(w http.ResponseWriter, r *http.Request) {
	var req factory.PromoCodeJSON
	if !h.decode(w, r, &req) {
		return
	}

	pc, err := h.PromoFactory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid promo code definition", err)
		return
	}

	created, err := h.Promos.Create(r.Context(), *pc)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toPromoCodeDTO(*created))
}

func (h *Handler) GetPromoCode(w http.ResponseWriter, r *http.Request) {
	pc, err := h.Promos.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPromoCodeDTO(*pc))
}

// RetirePromoCode soft-deletes: the code stays readable but never applies again.
func (h *Handler) RetirePromoCode(w http.ResponseWriter, r *http.Request) {
	pc, err := h.Promos.Retire(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toPromoCodeDTO(*pc))
}

// =============================================================================
// CART HANDLERS
// =============================================================================

// EvaluateCart quotes the codes on a cart. Rejected codes are reported per
// code with status 200; nothing is consumed.
func (h *Handler) EvaluateCart(w http.ResponseWriter, r *http.Request) {
	var req EvaluateCartRequest
	if !h.decode(w, r, &req) {
		return
	}
	cart, err := h.toCart(req.Cart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cart", err)
		return
	}

	q, err := h.Promos.Quote(r.Context(), req.Codes, cart)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q))
}

// Checkout redeems codes. A replayed checkout_id returns the original
// redemptions with status 200 instead of 201.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	cart, err := h.toCart(req.Cart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cart", err)
		return
	}

	res, err := h.Promos.Checkout(r.Context(), promo.CheckoutRequest{
		CheckoutID: req.CheckoutID,
		Codes:      req.Codes,
		Cart:       cart,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dto := CheckoutDTO{
		CheckoutID:  req.CheckoutID,
		Replayed:    res.Replayed,
		Redemptions: toRedemptionDTOs(res.Redemptions),
	}
	status := http.StatusOK
	if !res.Replayed {
		q := toQuoteDTO(res.Quote)
		dto.Quote = &q
		status = http.StatusCreated
	}
	writeJSON(w, status, dto)
}

// =============================================================================
// REFUND HANDLERS
// =============================================================================

// QuoteRefund runs the refund engine without touching any enrollment.
func (h *Handler) QuoteRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	currency := h.currencyOr(req.Currency)

	paid, err := parseAmount(req.AmountPaid, currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount_paid", err)
		return
	}
	deposit := generic.Zero(currency)
	if req.Deposit != "" {
		if deposit, err = parseAmount(req.Deposit, currency); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid deposit", err)
			return
		}
	}
	requestDate := h.Now()
	if req.RequestDate != nil {
		requestDate = *req.RequestDate
	}

	d, err := h.Refunds.Decide(req.ClassStart, requestDate, paid, deposit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(*d))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// PutSchedule upserts read-only schedule data from the course catalog.
func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := parseAmount(req.Price, h.currencyOr(req.Currency))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}

	s := enrollment.Schedule{
		ID:       generic.ScheduleID(chi.URLParam(r, "id")),
		CourseID: generic.CourseID(req.CourseID),
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Price:    price,
	}
	if err := h.Schedules.SaveSchedule(r.Context(), s); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(s))
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.Enrollments.Create(r.Context(), enrollment.CreateRequest{
		StudentID:  generic.UserID(req.StudentID),
		ScheduleID: generic.ScheduleID(req.ScheduleID),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentDTO(*e))
}

func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.Enrollments.Get(r.Context(), enrollmentID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*e))
}

// UpdateBalance records the payment system's view of what is paid and due.
func (h *Handler) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	paid, err := parseAmount(req.AmountPaid, h.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount_paid", err)
		return
	}
	due, err := parseAmount(req.AmountDue, h.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount_due", err)
		return
	}

	e, err := h.Enrollments.UpdateBalance(r.Context(), enrollmentID(r), paid, due)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*e))
}

// AssessGate reports readiness without changing the enrollment.
func (h *Handler) AssessGate(w http.ResponseWriter, r *http.Request) {
	var req GateRequest
	if !h.decode(w, r, &req) {
		return
	}
	forms := toFormStatus(req.Forms)
	waivers := toWaiverStatus(req.Waivers)

	v, err := h.Enrollments.Gate(r.Context(), enrollmentID(r), forms, waivers)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerdictDTO(v, forms, waivers))
}

// ApplyEvent runs one lifecycle event through the transition table.
func (h *Handler) ApplyEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.Enrollments.Apply(r.Context(), enrollmentID(r), enrollment.EventRequest{
		Event:                  enrollment.Event(req.Event),
		PaymentConfirmation:    req.PaymentConfirmation,
		Forms:                  toFormStatus(req.Forms),
		Waivers:                toWaiverStatus(req.Waivers),
		AcknowledgeCreditTerms: req.AcknowledgeCreditTerms,
		NewScheduleID:          generic.ScheduleID(req.NewScheduleID),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*e))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it writes a 400 and
// returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) currencyOr(c string) generic.Currency {
	if c == "" {
		return h.Currency
	}
	return generic.Currency(c)
}

func (h *Handler) toCart(c CartDTO) (promo.Cart, error) {
	currency := h.currencyOr(c.Currency)
	cart := promo.Cart{
		Currency: currency,
		Lines:    make([]promo.CartLine, len(c.Lines)),
		Tax:      generic.Zero(currency),
		Shipping: generic.Zero(currency),
		Customer: promo.Customer{
			UserID:          generic.UserID(c.Customer.UserID),
			IsFirstPurchase: c.Customer.IsFirstPurchase,
			IsNewCustomer:   c.Customer.IsNewCustomer,
		},
	}
	for i, l := range c.Lines {
		price, err := parseAmount(l.UnitPrice, currency)
		if err != nil {
			return promo.Cart{}, fmt.Errorf("line %d: %w", i, err)
		}
		line := promo.CartLine{
			CourseID:  generic.CourseID(l.CourseID),
			UnitPrice: price,
			Quantity:  l.Quantity,
		}
		for _, id := range l.CategoryIDs {
			line.CategoryIDs = append(line.CategoryIDs, generic.CategoryID(id))
		}
		cart.Lines[i] = line
	}
	var err error
	if c.Tax != "" {
		if cart.Tax, err = parseAmount(c.Tax, currency); err != nil {
			return promo.Cart{}, fmt.Errorf("tax: %w", err)
		}
	}
	if c.Shipping != "" {
		if cart.Shipping, err = parseAmount(c.Shipping, currency); err != nil {
			return promo.Cart{}, fmt.Errorf("shipping: %w", err)
		}
	}
	return cart, nil
}

// parseAmount parses a non-negative major-unit amount.
func parseAmount(s string, currency generic.Currency) (generic.Money, error) {
	m, err := generic.ParseMoney(s, currency)
	if err != nil {
		return generic.Money{}, err
	}
	if m.IsNegative() {
		return generic.Money{}, fmt.Errorf("amount %s must not be negative", m)
	}
	return m, nil
}

func enrollmentID(r *http.Request) generic.EnrollmentID {
	return generic.EnrollmentID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
