package documents

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/httpx"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Handler exposes document routes.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{documentID}", h.show)
	r.Get("/{documentID}/settlements", h.settlements)
	r.Post("/{documentID}/transition", h.transition)
}

type lineRequest struct {
	ProductID   *uuid.UUID      `json:"product_id"`
	Description string          `json:"description" validate:"max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createDocumentRequest struct {
	Kind         string           `json:"kind" validate:"required,oneof=invoice purchase_order sales_order quote credit_note debit_note"`
	Type         string           `json:"type" validate:"omitempty,oneof=sale purchase expense"`
	Number       string           `json:"number" validate:"max=60"`
	ContactID    *uuid.UUID       `json:"contact_id"`
	InvoiceID    *uuid.UUID       `json:"invoice_id"`
	Date         *time.Time       `json:"date"`
	DueDate      *time.Time       `json:"due_date"`
	Currency     string           `json:"currency" validate:"required,len=3"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
	Discount     decimal.Decimal  `json:"discount"`
	Tax          decimal.Decimal  `json:"tax"`
	Lines        []lineRequest    `json:"lines" validate:"dive"`
	Reason       string           `json:"reason" validate:"max=500"`
	Notes        string           `json:"notes" validate:"max=2000"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{
		Kind:         Kind(req.Kind),
		Type:         Type(req.Type),
		Number:       req.Number,
		ContactID:    req.ContactID,
		InvoiceID:    req.InvoiceID,
		DueDate:      req.DueDate,
		Currency:     currency,
		ExchangeRate: req.ExchangeRate,
		Subtotal:     req.Subtotal,
		Discount:     req.Discount,
		Tax:          req.Tax,
		Reason:       req.Reason,
		Notes:        req.Notes,
	}
	if req.Date != nil {
		input.Date = *req.Date
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			ProductID:   l.ProductID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	doc, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Kind:   Kind(q.Get("kind")),
		Type:   Type(q.Get("type")),
		Status: Status(q.Get("status")),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		httpx.RespondError(w, shared.Invalid("unknown document kind %q", filter.Kind))
		return
	}
	if v := q.Get("contact_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("contact_id must be a uuid"))
			return
		}
		filter.ContactID = &id
	}
	filter.Page.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Page.Offset, _ = strconv.Atoi(q.Get("offset"))
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "documentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) settlements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "documentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListSettlements(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "documentID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Transition(r.Context(), id, Status(req.Status))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}
