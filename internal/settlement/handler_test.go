package settlement_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/httpx"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

func (h *harness) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithTenant(req.Context(), h.tenantID)))
		})
	})
	settlement.NewHandler(nil, h.engine).MountRoutes(r)
	return r
}

func do(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRecordPayment(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Cash", accounts.KindCash, money.USD, "0")
	inv := h.invoice(documents.TypeSale, money.USD, "300.00")
	router := h.router()

	body := `{"kind":"customer_receipt","account_id":"` + cash.ID.String() + `","document_id":"` + inv.ID.String() + `","amount":"120.00","currency":"usd"}`
	rec := do(t, router, http.MethodPost, "/payments", body, map[string]string{"Idempotency-Key": "pos-7"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var payment settlement.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payment))
	assert.Equal(t, settlement.PaymentCustomer, payment.Kind)
	assert.True(t, payment.DocumentAmount.Equal(dec("120")))

	replay := do(t, router, http.MethodPost, "/payments", body, map[string]string{"Idempotency-Key": "pos-7"})
	require.Equal(t, http.StatusCreated, replay.Code)
	var again settlement.Payment
	require.NoError(t, json.Unmarshal(replay.Body.Bytes(), &again))
	assert.Equal(t, payment.ID, again.ID)

	show := do(t, router, http.MethodGet, "/payments/"+payment.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, show.Code)

	list := do(t, router, http.MethodGet, "/payments?account_id="+cash.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var listed struct {
		Payments []settlement.Payment `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listed))
	assert.Len(t, listed.Payments, 1)
}

func TestHandlerMapsRuleErrorsToProblems(t *testing.T) {
	h := newHarness(t)
	cash := h.account("Till", accounts.KindCash, money.USD, "40")
	router := h.router()

	body := `{"account_id":"` + cash.ID.String() + `","amount":"50","direction":"decrease","reason":"shrinkage"}`
	rec := do(t, router, http.MethodPost, "/adjustments", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "InsufficientFunds", problem.Kind)
	assert.Equal(t, "40.00", problem.Details["balance"])
	assert.Equal(t, "50.00", problem.Details["requested"])
}

func TestHandlerRejectsInvalidBodies(t *testing.T) {
	h := newHarness(t)
	router := h.router()

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "/transfers", `{"from_account_id":"x","bogus":1}`},
		{"missing reason", "/adjustments", `{"account_id":"3f1c1d8e-3b7a-4a57-9a4e-7f6f3d2e1a10","amount":"1","direction":"increase"}`},
		{"bad kind", "/payments", `{"kind":"gift","account_id":"3f1c1d8e-3b7a-4a57-9a4e-7f6f3d2e1a10","amount":"1","currency":"USD"}`},
		{"bad currency", "/payments", `{"kind":"expense_payment","account_id":"3f1c1d8e-3b7a-4a57-9a4e-7f6f3d2e1a10","amount":"1","currency":"EUR"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tc.path, tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerNoteFlow(t *testing.T) {
	h := newHarness(t)
	note := h.note(documents.KindCreditNote, money.USD, "50.00")
	inv := h.invoice(documents.TypeSale, money.USD, "80.00")
	router := h.router()

	rec := do(t, router, http.MethodPost, "/notes/"+note.ID.String()+"/issue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/notes/"+note.ID.String()+"/apply", `{"invoice_id":"`+inv.ID.String()+`","amount":"50"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var applied settlement.ApplyNoteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, documents.StatusApplied, applied.Note.Status)
	assert.True(t, applied.Invoice.Balance.Equal(dec("30")))

	rec = do(t, router, http.MethodGet, "/notes/"+note.ID.String()+"/applications", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/notes/not-a-uuid/issue", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
