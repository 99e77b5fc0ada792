// Package settlement is the single entry point for business events that
// move money and document balances together. Every command runs in one
// transaction, locks its rows in a fixed order and may be replayed with an
// idempotency key.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// TxRepository is the unit of work a command runs in.
type TxRepository interface {
	ledger.TxRepository
	documents.TxRepository
	LockRows(ctx context.Context, tenantID uuid.UUID, targets []shared.LockTarget) error
	GetIdempotency(ctx context.Context, tenantID uuid.UUID, key string) (shared.IdempotencyRecord, error)
	SaveIdempotency(ctx context.Context, rec shared.IdempotencyRecord) error
	InsertPayment(ctx context.Context, p Payment) error
	GetPaymentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	InsertNoteApplication(ctx context.Context, a NoteApplication) error
	ListNoteApplications(ctx context.Context, tenantID, noteID uuid.UUID) ([]NoteApplication, error)
}

// RepositoryPort abstracts repository usage for the engine. The plain reads
// run before the transaction to find currencies and lock scopes; both are
// immutable once written.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, tenantID, id uuid.UUID) (accounts.Account, error)
	GetDocument(ctx context.Context, tenantID, id uuid.UUID) (documents.Document, error)
	GetPayment(ctx context.Context, tenantID, id uuid.UUID) (Payment, error)
	ListPayments(ctx context.Context, tenantID uuid.UUID, filter PaymentFilter) ([]Payment, error)
	ListNoteApplications(ctx context.Context, tenantID, noteID uuid.UUID) ([]NoteApplication, error)
}

// RateResolver picks the rate for a conversion.
type RateResolver interface {
	Resolve(ctx context.Context, from, to money.Currency, supplied *fx.Rate) (*fx.Rate, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives command outcomes.
type Recorder interface {
	ObserveCommand(op, outcome string)
	ObserveRetry(op string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveCommand(string, string) {}
func (noopRecorder) ObserveRetry(string)           {}

// Config groups engine settings.
type Config struct {
	Precisions money.Precisions
	MaxRetries int
	Backoff    time.Duration
	TxTimeout  time.Duration
}

// Engine runs settlement commands.
type Engine struct {
	repo       RepositoryPort
	ledger     *ledger.Ledger
	tracker    *documents.Tracker
	rates      RateResolver
	converter  fx.Converter
	precisions money.Precisions
	audit      AuditPort
	metrics    Recorder
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

// NewEngine builds Engine.
func NewEngine(repo RepositoryPort, l *ledger.Ledger, tracker *documents.Tracker, rates RateResolver, audit AuditPort, metrics Recorder, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Precisions == nil {
		cfg.Precisions = money.DefaultPrecisions()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 20 * time.Millisecond
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		repo:       repo,
		ledger:     l,
		tracker:    tracker,
		rates:      rates,
		converter:  fx.NewConverter(cfg.Precisions),
		precisions: cfg.Precisions,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Operation names, used for idempotency records, metrics and audit.
const (
	opRecordPayment  = "settlement:record_payment"
	opReversePayment = "settlement:reverse_payment"
	opTransfer       = "settlement:transfer"
	opAdjust         = "settlement:adjust"
	opIssueNote      = "settlement:issue_note"
	opApplyNote      = "settlement:apply_note"
	opCancelNote     = "settlement:cancel_note"
	opReceiveGoods   = "settlement:receive_goods"
	opDeliverOrder   = "settlement:deliver_sales_order"
	opConfirmOrder   = "settlement:confirm_sales_order"
	opConvert        = "settlement:convert_to_invoice"
)

// command carries one engine call through execute.
type command[T any] struct {
	op       string
	key      string
	locks    []shared.LockTarget
	run      func(ctx context.Context, tx TxRepository) (T, error)
	entity   string
	entityID func(T) string
	meta     func(T) map[string]any
}

// execute runs cmd in a transaction, retrying conflicts a bounded number of
// times. A stored result for the same key is returned without running cmd.
func execute[T any](ctx context.Context, e *Engine, cmd command[T]) (T, error) {
	var zero T
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return zero, err
	}
	var (
		result   T
		replayed bool
	)
	for attempt := 0; ; attempt++ {
		result, replayed, err = runOnce(ctx, e, tenantID, cmd)
		if err == nil || !shared.Retryable(err) || attempt >= e.cfg.MaxRetries {
			break
		}
		e.metrics.ObserveRetry(cmd.op)
		e.logger.Debug("retrying command", slog.String("op", cmd.op), slog.Int("attempt", attempt+1), slog.Any("error", err))
		if e.wait(ctx, attempt) != nil {
			break
		}
	}
	if err != nil {
		e.metrics.ObserveCommand(cmd.op, shared.KindName(err))
		e.logger.Warn("command rejected",
			slog.String("op", cmd.op),
			slog.String("tenant_id", tenantID.String()),
			slog.String("kind", shared.KindName(err)),
			slog.Any("error", err),
		)
		return zero, err
	}
	if replayed {
		e.metrics.ObserveCommand(cmd.op, "replayed")
		e.logger.Info("command replayed", slog.String("op", cmd.op), slog.String("key", cmd.key))
		return result, nil
	}
	e.metrics.ObserveCommand(cmd.op, "ok")
	id := cmd.entityID(result)
	var meta map[string]any
	if cmd.meta != nil {
		meta = cmd.meta(result)
	}
	e.recordAudit(ctx, tenantID, cmd.op, cmd.entity, id, meta)
	e.logger.Info("command committed",
		slog.String("op", cmd.op),
		slog.String("tenant_id", tenantID.String()),
		slog.String(cmd.entity+"_id", id),
	)
	return result, nil
}

// runOnce is a single transactional attempt of cmd.
func runOnce[T any](ctx context.Context, e *Engine, tenantID uuid.UUID, cmd command[T]) (T, bool, error) {
	var (
		result   T
		replayed bool
	)
	if e.cfg.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TxTimeout)
		defer cancel()
	}
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if cmd.key != "" {
			rec, err := tx.GetIdempotency(ctx, tenantID, cmd.key)
			switch {
			case err == nil:
				if rec.Operation != cmd.op {
					return shared.NewRuleError(shared.ErrValidation, "idempotency key already used by another operation", map[string]string{
						"key":       cmd.key,
						"operation": rec.Operation,
					})
				}
				if err := json.Unmarshal(rec.Result, &result); err != nil {
					return fmt.Errorf("settlement: decode stored result: %w", err)
				}
				replayed = true
				return nil
			case !errors.Is(err, shared.ErrNotFound):
				return err
			}
		}
		if len(cmd.locks) > 0 {
			if err := tx.LockRows(ctx, tenantID, shared.OrderLocks(cmd.locks...)); err != nil {
				return err
			}
		}
		out, err := cmd.run(ctx, tx)
		if err != nil {
			return err
		}
		if cmd.key != "" {
			payload, err := json.Marshal(out)
			if err != nil {
				return fmt.Errorf("settlement: encode result: %w", err)
			}
			if err := tx.SaveIdempotency(ctx, shared.IdempotencyRecord{
				TenantID:  tenantID,
				Key:       cmd.key,
				Operation: cmd.op,
				Result:    payload,
				CreatedAt: e.now(),
			}); err != nil {
				return err
			}
		}
		result = out
		return nil
	})
	return result, replayed, err
}

// wait sleeps for an exponential backoff with jitter.
func (e *Engine) wait(ctx context.Context, attempt int) error {
	d := e.cfg.Backoff << attempt
	d += rand.N(e.cfg.Backoff)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) recordAudit(ctx context.Context, tenantID uuid.UUID, action, entity, id string, meta map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
	}); err != nil {
		e.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// resolveRate returns the rate linking from with the first differing
// currency in others, or nil when every currency equals from. With only
// two supported currencies one rate covers every conversion of a command.
func (e *Engine) resolveRate(ctx context.Context, from money.Currency, supplied *fx.Rate, others ...money.Currency) (*fx.Rate, error) {
	for _, to := range others {
		if to != "" && to != from {
			return e.rates.Resolve(ctx, from, to, supplied)
		}
	}
	return nil, nil
}

// stamp returns rate when from and to differ.
func stamp(rate *fx.Rate, from, to money.Currency) *fx.Rate {
	if from == to {
		return nil
	}
	return rate
}

// GetPayment returns one payment.
func (e *Engine) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Payment{}, err
	}
	return e.repo.GetPayment(ctx, tenantID, id)
}

// ListPayments lists payments matching filter.
func (e *Engine) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	filter.Page = filter.Page.Normalize()
	return e.repo.ListPayments(ctx, tenantID, filter)
}

// ListNoteApplications answers where a note's value went.
func (e *Engine) ListNoteApplications(ctx context.Context, noteID uuid.UUID) ([]NoteApplication, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := e.repo.GetDocument(ctx, tenantID, noteID); err != nil {
		return nil, err
	}
	return e.repo.ListNoteApplications(ctx, tenantID, noteID)
}
