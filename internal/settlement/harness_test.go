package settlement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/memstore"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  int
}

func (r *countingRecorder) ObserveCommand(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[op+"/"+outcome]++
}

func (r *countingRecorder) ObserveRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) count(op, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[op+"/"+outcome]
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	tenantID uuid.UUID
	store    *memstore.Store
	accounts *accounts.Service
	ledger   *ledger.Service
	docs     *documents.Service
	rates    *fx.Service
	engine   *settlement.Engine
	metrics  *countingRecorder
	audit    *memoryAudit
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRetries(t, 3)
}

func newHarnessWithRetries(t *testing.T, retries int) *harness {
	t.Helper()
	precisions := money.DefaultPrecisions()
	store := memstore.New()
	l := ledger.New(ledger.Config{Policy: accounts.DefaultPolicy(), Precisions: precisions})
	ledgerSvc := ledger.NewService(store.Ledger(), l, nil)
	audit := &memoryAudit{}
	accountSvc := accounts.NewService(store.Accounts(), ledgerSvc, audit, accounts.ServiceConfig{Precisions: precisions}, nil)
	tracker := documents.NewTracker(precisions)
	docSvc := documents.NewService(store.Documents(), tracker, audit, nil)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rateSvc := fx.NewService(store.Rates(), fx.NewCache(client, time.Minute), nil)

	metrics := &countingRecorder{}
	engine := settlement.NewEngine(store.Settlement(), l, tracker, rateSvc, audit, metrics, settlement.Config{
		Precisions: precisions,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
		TxTimeout:  5 * time.Second,
	}, nil)

	tenantID := uuid.New()
	return &harness{
		t:        t,
		ctx:      shared.ContextWithTenant(context.Background(), tenantID),
		tenantID: tenantID,
		store:    store,
		accounts: accountSvc,
		ledger:   ledgerSvc,
		docs:     docSvc,
		rates:    rateSvc,
		engine:   engine,
		metrics:  metrics,
		audit:    audit,
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (h *harness) account(name string, kind accounts.Kind, currency money.Currency, opening string) accounts.Account {
	h.t.Helper()
	acc, err := h.accounts.CreateAccount(h.ctx, accounts.CreateAccountInput{
		Name:           name,
		Kind:           kind,
		Currency:       currency,
		OpeningBalance: dec(opening),
	})
	require.NoError(h.t, err)
	return acc
}

func (h *harness) balance(id uuid.UUID) decimal.Decimal {
	h.t.Helper()
	bal, _, err := h.accounts.GetBalance(h.ctx, id)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) invoice(docType documents.Type, currency money.Currency, subtotal string) documents.Document {
	h.t.Helper()
	doc, err := h.docs.Create(h.ctx, documents.CreateInput{
		Kind:     documents.KindInvoice,
		Type:     docType,
		Currency: currency,
		Subtotal: dec(subtotal),
	})
	require.NoError(h.t, err)
	return doc
}

func (h *harness) note(kind documents.Kind, currency money.Currency, subtotal string) documents.Document {
	h.t.Helper()
	doc, err := h.docs.Create(h.ctx, documents.CreateInput{
		Kind:     kind,
		Currency: currency,
		Subtotal: dec(subtotal),
		Reason:   "returned goods",
	})
	require.NoError(h.t, err)
	return doc
}

func (h *harness) document(id uuid.UUID) documents.Document {
	h.t.Helper()
	doc, err := h.docs.Get(h.ctx, id)
	require.NoError(h.t, err)
	return doc
}

func (h *harness) movements(accountID uuid.UUID) []ledger.Movement {
	h.t.Helper()
	list, err := h.ledger.ListMovements(h.ctx, accountID, ledger.MovementFilter{})
	require.NoError(h.t, err)
	return list
}

// requireConsistent runs both reconciliations and expects no findings.
func (h *harness) requireConsistent() {
	h.t.Helper()
	drifts, err := h.ledger.Reconcile(h.ctx)
	require.NoError(h.t, err)
	require.Empty(h.t, drifts)
	violations, err := h.docs.Reconcile(h.ctx)
	require.NoError(h.t, err)
	require.Empty(h.t, violations)
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
}
