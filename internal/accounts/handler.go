package accounts

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

// Handler exposes account routes.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{accountID}", h.show)
	r.Get("/{accountID}/balance", h.balance)
	r.Delete("/{accountID}", h.delete)
	r.Post("/{accountID}/activate", h.setActive(true))
	r.Post("/{accountID}/deactivate", h.setActive(false))
}

type createAccountRequest struct {
	Name           string          `json:"name" validate:"required,max=120"`
	NameAr         string          `json:"name_ar" validate:"max=120"`
	Kind           string          `json:"kind" validate:"required,oneof=cash bank"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	OpeningDate    *time.Time      `json:"opening_date"`
	IsDefault      bool            `json:"is_default"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateAccountInput{
		Name:           req.Name,
		NameAr:         req.NameAr,
		Kind:           Kind(req.Kind),
		Currency:       currency,
		OpeningBalance: req.OpeningBalance,
		IsDefault:      req.IsDefault,
	}
	if req.OpeningDate != nil {
		input.OpeningDate = *req.OpeningDate
	}
	account, err := h.service.CreateAccount(r.Context(), input)
	if err != nil {
		h.logger.Warn("create account", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Kind:            Kind(q.Get("kind")),
		IncludeInactive: q.Get("include_inactive") == "true",
		IncludeDeleted:  q.Get("include_deleted") == "true",
	}
	if v := q.Get("currency"); v != "" {
		currency, err := money.ParseCurrency(v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Currency = currency
	}
	accounts, err := h.service.ListAccounts(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, currency, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": id, "balance": balance, "currency": currency})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.SoftDelete(r.Context(), id, r.URL.Query().Get("acknowledge_history") == "true")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.URLUUID(r, "accountID")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		account, err := h.service.SetActive(r.Context(), id, active)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, account)
	}
}
