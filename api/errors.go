package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/enrollment-engine/enrollment"
	"github.com/warp/enrollment-engine/generic"
	"github.com/warp/enrollment-engine/promo"
	"github.com/warp/enrollment-engine/refund"
)

// =============================================================================
// ERROR CATEGORY -> HTTP STATUS
// =============================================================================
//
//   Rejection            422  user-safe message and a stable code
//   Conflict             409  retry after re-fetching
//   Not found            404
//   Bad input            400  precision loss, duplicate idempotency key
//   Invariant violation  500  logged, message withheld

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case generic.IsRejection(err):
		writeJSON(w, http.StatusUnprocessableEntity, rejectionResponse(err))

	case generic.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "The resource was modified concurrently, please retry.",
			Code:  "CONCURRENT_MODIFICATION",
		})

	case errors.Is(err, promo.ErrDuplicateCode):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "DUPLICATE_CODE"})

	case generic.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})

	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)

	case generic.IsInvariantViolation(err):
		h.Logger.Error("invariant violation reached the API",
			zap.String("category", "invariant"),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Internal error",
			Code:  "INVARIANT_VIOLATION",
		})

	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error"})
	}
}

// rejectionResponse gives each rejection a stable code and, where the
// client needs it to act, structured details.
func rejectionResponse(err error) ErrorResponse {
	var (
		promoRej  *promo.RejectionError
		pastStart *refund.PastStartError
		gate      *enrollment.GateNotSatisfiedError
		terms     *enrollment.CreditTermsError
		guard     *enrollment.GuardError
	)
	switch {
	case errors.As(err, &promoRej):
		return ErrorResponse{
			Error:   promoRej.Reason.Message(),
			Code:    string(promoRej.Reason),
			Details: map[string]string{"promo_code": promoRej.Code},
		}
	case errors.As(err, &pastStart):
		return ErrorResponse{
			Error: "The class has already started and can no longer be cancelled.",
			Code:  string(refund.TierIneligiblePastStart),
			Details: map[string]any{
				"class_start":      pastStart.ClassStart.String(),
				"days_until_class": pastStart.DaysUntilClass,
			},
		}
	case errors.As(err, &gate):
		blockers := make([]string, len(gate.Blockers))
		for i, b := range gate.Blockers {
			blockers[i] = string(b)
		}
		return ErrorResponse{
			Error:   "The enrollment cannot be completed yet.",
			Code:    "GATE_NOT_SATISFIED",
			Details: map[string]any{"blockers": blockers},
		}
	case errors.As(err, &terms):
		return ErrorResponse{
			Error:   "This cancellation earns a course credit, not a refund. Acknowledge the credit terms to continue.",
			Code:    "CREDIT_TERMS_NOT_ACKNOWLEDGED",
			Details: toDecisionDTO(terms.Decision),
		}
	case errors.As(err, &guard):
		return ErrorResponse{Error: guard.Error(), Code: guardCode(guard.Guard)}
	}
	return ErrorResponse{Error: err.Error(), Code: "REJECTED"}
}

func guardCode(sentinel error) string {
	switch sentinel {
	case enrollment.ErrPaymentNotConfirmed:
		return "PAYMENT_NOT_CONFIRMED"
	case enrollment.ErrCourseNotYetFinished:
		return "COURSE_NOT_YET_FINISHED"
	case enrollment.ErrScheduleRequired:
		return "SCHEDULE_REQUIRED"
	case enrollment.ErrInvalidSchedule:
		return "INVALID_SCHEDULE"
	}
	return "REJECTED"
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Validation failed",
		Code:    "VALIDATION_FAILED",
		Details: fields,
	})
}
