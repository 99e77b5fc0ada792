package settlement

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/httpx"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Handler exposes the settlement commands over HTTP. Mutating routes honour
// the Idempotency-Key header.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.listPayments)
		r.Post("/", h.recordPayment)
		r.Get("/{paymentID}", h.showPayment)
		r.Post("/{paymentID}/reverse", h.reversePayment)
	})
	r.Post("/transfers", h.transfer)
	r.Post("/adjustments", h.adjust)
	r.Route("/notes/{noteID}", func(r chi.Router) {
		r.Post("/issue", h.issueNote)
		r.Post("/apply", h.applyNote)
		r.Post("/cancel", h.cancelNote)
		r.Get("/applications", h.noteApplications)
	})
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Post("/receive", h.receive)
		r.Post("/deliver", h.deliver)
		r.Post("/confirm", h.confirm)
		r.Post("/convert", h.convert)
	})
}

type paymentRequest struct {
	Kind       string          `json:"kind" validate:"required,oneof=supplier_payment expense_payment customer_receipt"`
	AccountID  uuid.UUID       `json:"account_id" validate:"required"`
	DocumentID *uuid.UUID      `json:"document_id"`
	ContactID  *uuid.UUID      `json:"contact_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency" validate:"required,len=3"`
	Rate       *fx.Rate        `json:"rate"`
	Method     string          `json:"method" validate:"omitempty,oneof=cash bank_transfer cheque card whish omt other"`
	Reference  string          `json:"reference" validate:"max=120"`
	Notes      string          `json:"notes" validate:"max=2000"`
	Date       *time.Time      `json:"date"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.engine.RecordPayment(r.Context(), PaymentInput{
		Kind:           PaymentKind(req.Kind),
		AccountID:      req.AccountID,
		DocumentID:     req.DocumentID,
		ContactID:      req.ContactID,
		Amount:         req.Amount,
		Currency:       currency,
		Rate:           req.Rate,
		Method:         Method(req.Method),
		Reference:      req.Reference,
		Notes:          req.Notes,
		Date:           dateOrZero(req.Date),
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := PaymentFilter{Kind: PaymentKind(q.Get("kind"))}
	if filter.Kind != "" && !filter.Kind.Valid() {
		httpx.RespondError(w, shared.Invalid("unknown payment kind %q", filter.Kind))
		return
	}
	var err error
	if filter.AccountID, err = queryUUID(q.Get("account_id"), "account_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DocumentID, err = queryUUID(q.Get("document_id"), "document_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Page.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Page.Offset, _ = strconv.Atoi(q.Get("offset"))
	payments, err := h.engine.ListPayments(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) showPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.engine.GetPayment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

type reasonRequest struct {
	Reason string     `json:"reason" validate:"required,max=500"`
	Date   *time.Time `json:"date"`
}

func (h *Handler) reversePayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "paymentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reasonRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.engine.ReversePayment(r.Context(), ReversePaymentInput{
		PaymentID:      id,
		Reason:         req.Reason,
		Date:           dateOrZero(req.Date),
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

type transferRequest struct {
	FromAccountID uuid.UUID       `json:"from_account_id" validate:"required"`
	ToAccountID   uuid.UUID       `json:"to_account_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Rate          *fx.Rate        `json:"rate"`
	Date          *time.Time      `json:"date"`
	Notes         string          `json:"notes" validate:"max=2000"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.engine.Transfer(r.Context(), TransferInput{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Rate:           req.Rate,
		Date:           dateOrZero(req.Date),
		Notes:          req.Notes,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type adjustRequest struct {
	AccountID uuid.UUID       `json:"account_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction" validate:"required,oneof=increase decrease"`
	Reason    string          `json:"reason" validate:"required,max=500"`
	Date      *time.Time      `json:"date"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := h.engine.Adjust(r.Context(), AdjustInput{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Direction:      Direction(req.Direction),
		Reason:         req.Reason,
		Date:           dateOrZero(req.Date),
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) issueNote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "noteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	note, err := h.engine.IssueNote(r.Context(), id, httpx.IdempotencyKey(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

type applyNoteRequest struct {
	InvoiceID uuid.UUID       `json:"invoice_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      *fx.Rate        `json:"rate"`
}

func (h *Handler) applyNote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "noteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req applyNoteRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.engine.ApplyNote(r.Context(), ApplyNoteInput{
		NoteID:         id,
		InvoiceID:      req.InvoiceID,
		Amount:         req.Amount,
		Rate:           req.Rate,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) cancelNote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "noteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.engine.CancelNote(r.Context(), id, req.Reason, httpx.IdempotencyKey(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) noteApplications(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "noteID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	apps, err := h.engine.ListNoteApplications(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"applications": apps})
}

type deliveryRequest struct {
	Lines []struct {
		LineID   uuid.UUID       `json:"line_id" validate:"required"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) bindDeliveries(r *http.Request) (uuid.UUID, []documents.LineDelivery, error) {
	id, err := httpx.URLUUID(r, "orderID")
	if err != nil {
		return uuid.Nil, nil, err
	}
	var req deliveryRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		return uuid.Nil, nil, err
	}
	deliveries := make([]documents.LineDelivery, 0, len(req.Lines))
	for _, l := range req.Lines {
		deliveries = append(deliveries, documents.LineDelivery{LineID: l.LineID, Quantity: l.Quantity})
	}
	return id, deliveries, nil
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, deliveries, err := h.bindDeliveries(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.engine.ReceiveGoods(r.Context(), id, deliveries, httpx.IdempotencyKey(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	id, deliveries, err := h.bindDeliveries(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.engine.DeliverSalesOrder(r.Context(), id, deliveries, httpx.IdempotencyKey(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.engine.ConfirmSalesOrder(r.Context(), id, httpx.IdempotencyKey(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type convertRequest struct {
	Number  string     `json:"number" validate:"max=60"`
	DueDate *time.Time `json:"due_date"`
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "orderID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req convertRequest
	if r.ContentLength > 0 {
		if err := httpx.Bind(r, h.validate, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	result, err := h.engine.ConvertToInvoice(r.Context(), id, ConvertOptions{
		Number:         req.Number,
		DueDate:        req.DueDate,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func dateOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func queryUUID(v, name string) (*uuid.UUID, error) {
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, shared.Invalid("%s must be a uuid", name)
	}
	return &id, nil
}
