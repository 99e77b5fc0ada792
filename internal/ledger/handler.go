package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abooddev/accounting-saas/internal/platform/httpx"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Handler exposes movement listings. Routes hang off an account.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers movement routes on the accounts router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{accountID}/movements", h.list)
	r.Get("/{accountID}/movements/{movementID}", h.show)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	accountID, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{Kind: Kind(q.Get("kind"))}
	if filter.Kind != "" && !filter.Kind.Valid() {
		httpx.RespondError(w, shared.Invalid("unknown movement kind %q", filter.Kind))
		return
	}
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Page.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Page.Offset, _ = strconv.Atoi(q.Get("offset"))
	movements, err := h.service.ListMovements(r.Context(), accountID, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	accountID, err := httpx.URLUUID(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movementID, err := httpx.URLUUID(r, "movementID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := h.service.GetMovement(r.Context(), movementID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if movement.AccountID != accountID {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, shared.Invalid("date %q must be YYYY-MM-DD", v)
	}
	return t, nil
}
