package fx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/httpx"
)

// Handler exposes the rate table over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	converter Converter
	validate  *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, converter Converter) *Handler {
	return &Handler{logger: logger, service: service, converter: converter, validate: validator.New()}
}

// MountRoutes registers rate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rates", h.list)
	r.Post("/rates", h.set)
	r.Get("/rates/active", h.active)
	r.Post("/convert", h.convert)
}

type setRateRequest struct {
	Base          string          `json:"base" validate:"required,len=3"`
	Quote         string          `json:"quote" validate:"required,len=3,nefield=Base"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate *time.Time      `json:"effective_date"`
	Source        string          `json:"source" validate:"omitempty,max=64"`
}

type convertRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from" validate:"required,len=3"`
	To     string          `json:"to" validate:"required,len=3"`
	Rate   *Rate           `json:"rate"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{ActiveOnly: q.Get("active") == "true"}
	if v := q.Get("base"); v != "" {
		c, err := money.ParseCurrency(v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Base = c
	}
	if v := q.Get("quote"); v != "" {
		c, err := money.ParseCurrency(v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Quote = c
	}
	rates, err := h.service.ListRates(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rates": rates})
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	base, err := money.ParseCurrency(req.Base)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quote, err := money.ParseCurrency(req.Quote)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SetRateInput{Base: base, Quote: quote, Rate: req.Rate, Source: req.Source}
	if req.EffectiveDate != nil {
		input.EffectiveDate = *req.EffectiveDate
	}
	rate, err := h.service.SetRate(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rate)
}

func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	base, err := money.ParseCurrency(r.URL.Query().Get("base"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quote, err := money.ParseCurrency(r.URL.Query().Get("quote"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rate, err := h.service.ActiveRate(r.Context(), base, quote)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := money.ParseCurrency(req.From)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := money.ParseCurrency(req.To)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rate, err := h.service.Resolve(r.Context(), from, to, req.Rate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, err := h.converter.Convert(req.Amount, from, to, rate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"amount":   amount,
		"currency": to,
		"rate":     rate,
	})
}
