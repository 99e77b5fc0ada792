package httpx

import (
	"errors"
	"net/http"

	"github.com/abooddev/accounting-saas/internal/shared"
)

var ruleKinds = []error{
	shared.ErrInsufficientFunds,
	shared.ErrInvalidStatusTransition,
	shared.ErrOverSettlement,
	shared.ErrOverApplication,
	shared.ErrOverReceipt,
	shared.ErrCurrencyMismatch,
	shared.ErrUnsupportedCurrencyPair,
	shared.ErrAccountHasActivity,
}

// StatusFor maps a ledger error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrTenantRequired):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return http.StatusConflict
	}
	for _, kind := range ruleKinds {
		if errors.Is(err, kind) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, "Internal Error", "")
		return
	}
	if status == http.StatusConflict {
		w.Header().Set("Retry-After", "1")
	}
	WriteProblem(w, ProblemDetail{
		Type:    "urn:ledger:error:" + shared.KindName(err),
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  err.Error(),
		Kind:    shared.KindName(err),
		Details: shared.DetailsOf(err),
	})
}
