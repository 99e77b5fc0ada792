package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/observability"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AccountsHandler   *accounts.Handler
	LedgerHandler     *ledger.Handler
	FXHandler         *fx.Handler
	DocumentsHandler  *documents.Handler
	SettlementHandler *settlement.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Route("/accounts", func(r chi.Router) {
			if params.AccountsHandler != nil {
				params.AccountsHandler.MountRoutes(r)
			}
			if params.LedgerHandler != nil {
				params.LedgerHandler.MountRoutes(r)
			}
		})
		if params.FXHandler != nil {
			r.Route("/fx", params.FXHandler.MountRoutes)
		}
		if params.DocumentsHandler != nil {
			r.Route("/documents", params.DocumentsHandler.MountRoutes)
		}
		if params.SettlementHandler != nil {
			params.SettlementHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			params.JobHandler.MountTrigger(r)
		}
	})

	return r
}

// Router builds every domain handler from c and mounts them.
func (c *Components) Router(cfg *Config, logger *slog.Logger, metrics *observability.Metrics, jobHandler *jobs.Handler) http.Handler {
	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountsHandler:   accounts.NewHandler(logger, c.Accounts),
		LedgerHandler:     ledger.NewHandler(logger, c.Ledger),
		FXHandler:         fx.NewHandler(logger, c.Rates, c.Converter),
		DocumentsHandler:  documents.NewHandler(logger, c.Documents),
		SettlementHandler: settlement.NewHandler(logger, c.Engine),
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})
}
