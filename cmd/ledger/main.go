package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/abooddev/accounting-saas/internal/app"
	"github.com/abooddev/accounting-saas/internal/observability"
	"github.com/abooddev/accounting-saas/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	backends, err := app.OpenBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backends", slog.Any("error", err))
		os.Exit(1)
	}
	defer backends.Close(logger)

	metrics := observability.NewMetrics()
	components, err := app.BuildComponents(app.ComponentsParams{
		Config:  cfg,
		Logger:  logger,
		Pool:    backends.Pool,
		Redis:   backends.Redis,
		Metrics: metrics,
	})
	if err != nil {
		logger.Error("build components", slog.Any("error", err))
		os.Exit(1)
	}

	var jobHandler *jobs.Handler
	if backends.QueueEnabled() {
		inspector := asynq.NewInspector(backends.Cache.AsynqOpt())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobClient, err := jobs.NewClient(backends.Cache.AsynqOpt())
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, jobClient, nil, logger)
	} else {
		reconciler := jobs.NewReconcileJob(components.Ledger, components.Documents, metrics.Ledger(), logger, nil)
		jobHandler = jobs.NewHandler(nil, nil, reconciler, logger)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      components.Router(cfg, logger, metrics, jobHandler),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
