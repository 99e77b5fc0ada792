package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/abooddev/accounting-saas/internal/documents"
	jobmetrics "github.com/abooddev/accounting-saas/internal/jobs"
	"github.com/abooddev/accounting-saas/internal/ledger"
)

// ErrDriftDetected is returned when a reconciliation run finds broken
// invariants, so the queue records the run as failed.
var ErrDriftDetected = errors.New("reconcile: drift detected")

// BalanceReconciler recomputes stored account balances from movements.
type BalanceReconciler interface {
	Reconcile(ctx context.Context) ([]ledger.Drift, error)
}

// DocumentReconciler checks settled amounts and statuses of documents.
type DocumentReconciler interface {
	Reconcile(ctx context.Context) ([]documents.Violation, error)
}

// DriftGauge publishes the findings of the last run per check.
type DriftGauge interface {
	SetDrift(check string, findings int)
}

// ReconcileReport summarises one run.
type ReconcileReport struct {
	Drifts     []ledger.Drift        `json:"drifts"`
	Violations []documents.Violation `json:"violations"`
}

// Clean reports whether the run found nothing.
func (r ReconcileReport) Clean() bool {
	return len(r.Drifts) == 0 && len(r.Violations) == 0
}

// ReconcileJob runs the account and document checks side by side.
type ReconcileJob struct {
	Balances  BalanceReconciler
	Documents DocumentReconciler
	Gauge     DriftGauge
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(balances BalanceReconciler, docs DocumentReconciler, gauge DriftGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Balances: balances, Documents: docs, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// Handle executes the reconciliation task.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run performs one reconciliation and returns what it found. The error is
// ErrDriftDetected when the report is not clean.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) (ReconcileReport, error) {
	start := time.Now()
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	logger := j.logger().With(slog.String("job", TaskLedgerReconcile))
	if payload.RequestedBy != "" {
		logger = logger.With(slog.String("requested_by", payload.RequestedBy))
	}
	logger.Info("starting reconciliation")

	var report ReconcileReport
	g, gctx := errgroup.WithContext(ctx)
	if !payload.SkipAccounts && j.Balances != nil {
		g.Go(func() error {
			drifts, err := j.Balances.Reconcile(gctx)
			if err != nil {
				return fmt.Errorf("reconcile accounts: %w", err)
			}
			report.Drifts = drifts
			return nil
		})
	}
	if !payload.SkipDocuments && j.Documents != nil {
		g.Go(func() error {
			violations, err := j.Documents.Reconcile(gctx)
			if err != nil {
				return fmt.Errorf("reconcile documents: %w", err)
			}
			report.Violations = violations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("reconciliation failed", slog.Any("error", err))
		return ReconcileReport{}, tracker.End(err)
	}

	for _, d := range report.Drifts {
		logger.Warn("account balance drift",
			slog.String("tenant_id", d.TenantID.String()),
			slog.String("account_id", d.AccountID.String()),
			slog.String("stored", d.Stored.String()),
			slog.String("computed", d.Computed.String()),
		)
		j.Metrics.AddFindings("accounts", d.TenantID.String(), 1)
	}
	for _, v := range report.Violations {
		j.Metrics.AddFindings("documents", v.TenantID.String(), 1)
	}
	if j.Gauge != nil {
		if !payload.SkipAccounts {
			j.Gauge.SetDrift("accounts", len(report.Drifts))
		}
		if !payload.SkipDocuments {
			j.Gauge.SetDrift("documents", len(report.Violations))
		}
	}

	logger.Info("completed reconciliation",
		slog.Int("drifts", len(report.Drifts)),
		slog.Int("violations", len(report.Violations)),
		slog.Duration("duration", time.Since(start)),
	)
	if !report.Clean() {
		return report, tracker.End(ErrDriftDetected)
	}
	return report, tracker.End(nil)
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return j.Logger
}
