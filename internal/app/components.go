package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/observability"
	"github.com/abooddev/accounting-saas/internal/platform/db"
	"github.com/abooddev/accounting-saas/internal/platform/memstore"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// IdempotencyPurger drops idempotency records past retention.
type IdempotencyPurger interface {
	CleanupIdempotency(ctx context.Context, retention time.Duration) (int64, error)
}

// Components are the wired services shared by the API server and the worker.
type Components struct {
	Accounts    *accounts.Service
	Ledger      *ledger.Service
	Documents   *documents.Service
	Rates       *fx.Service
	Converter   fx.Converter
	Engine      *settlement.Engine
	Idempotency IdempotencyPurger
}

// ComponentsParams groups what BuildComponents needs. Pool is required for
// the postgres driver; Redis is optional and only backs the rate cache.
type ComponentsParams struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

type repositories struct {
	accounts    accounts.RepositoryPort
	ledger      ledger.RepositoryPort
	documents   documents.RepositoryPort
	settlement  settlement.RepositoryPort
	rates       fx.RepositoryPort
	idempotency IdempotencyPurger
	audit       *shared.AuditLogger
}

// BuildComponents wires repositories, services and the settlement engine
// for the configured store driver.
func BuildComponents(p ComponentsParams) (*Components, error) {
	cfg := p.Config
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	repos, err := buildRepositories(p)
	if err != nil {
		return nil, err
	}

	precisions := cfg.Precisions()
	l := ledger.New(ledger.Config{Policy: cfg.NegativePolicy(), Precisions: precisions})
	tracker := documents.NewTracker(precisions)
	converter := fx.NewConverter(precisions)
	rates := fx.NewService(repos.rates, fx.NewCache(p.Redis, cfg.FXCacheTTL), p.Logger)
	ledgerService := ledger.NewService(repos.ledger, l, p.Logger)

	// A nil *AuditLogger must not reach the services as a non-nil interface.
	var (
		accountAudit    accounts.AuditPort
		documentAudit   documents.AuditPort
		settlementAudit settlement.AuditPort
	)
	if repos.audit != nil {
		accountAudit, documentAudit, settlementAudit = repos.audit, repos.audit, repos.audit
	}

	var recorder settlement.Recorder
	if lm := p.Metrics.Ledger(); lm != nil {
		recorder = lm
	}

	return &Components{
		Accounts:  accounts.NewService(repos.accounts, ledgerService, accountAudit, accounts.ServiceConfig{Precisions: precisions}, p.Logger),
		Ledger:    ledgerService,
		Documents: documents.NewService(repos.documents, tracker, documentAudit, p.Logger),
		Rates:     rates,
		Converter: converter,
		Engine: settlement.NewEngine(repos.settlement, l, tracker, rates, settlementAudit, recorder, settlement.Config{
			Precisions: precisions,
			MaxRetries: cfg.MaxRetries,
			Backoff:    backoffFor(cfg.LockTimeout),
			TxTimeout:  cfg.TxTimeout,
		}, p.Logger),
		Idempotency: repos.idempotency,
	}, nil
}

func buildRepositories(p ComponentsParams) (repositories, error) {
	switch p.Config.StoreDriver {
	case StoreDriverMemory:
		store := memstore.New()
		return repositories{
			accounts:    store.Accounts(),
			ledger:      store.Ledger(),
			documents:   store.Documents(),
			settlement:  store.Settlement(),
			rates:       store.Rates(),
			idempotency: store,
		}, nil
	case StoreDriverPostgres:
		if p.Pool == nil {
			return repositories{}, errors.New("app: postgres store needs a pool")
		}
		settlementRepo := settlement.NewRepository(p.Pool, db.TxOptions{LockTimeout: p.Config.LockTimeout})
		return repositories{
			accounts:    accounts.NewRepository(p.Pool),
			ledger:      ledger.NewRepository(p.Pool),
			documents:   documents.NewRepository(p.Pool),
			settlement:  settlementRepo,
			rates:       fx.NewRepository(p.Pool),
			idempotency: settlementRepo,
			audit:       shared.NewAuditLogger(p.Pool),
		}, nil
	}
	return repositories{}, errors.New("app: unknown store driver " + p.Config.StoreDriver)
}

// backoffFor derives the first retry delay from the lock timeout, capped at
// 100ms.
func backoffFor(lockTimeout time.Duration) time.Duration {
	if lockTimeout <= 0 {
		return 25 * time.Millisecond
	}
	return min(lockTimeout/100, 100*time.Millisecond)
}
