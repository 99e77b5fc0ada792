// Package memstore is an in-memory implementation of every repository port.
// Transactions are serialised behind one mutex and roll back by restoring a
// snapshot, which is enough to exercise the engine's atomicity, idempotency
// and retry paths without PostgreSQL.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

type idemKey struct {
	tenant uuid.UUID
	key    string
}

type state struct {
	accounts     map[uuid.UUID]accounts.Account
	movements    []ledger.Movement
	documents    map[uuid.UUID]documents.Document
	entries      []documents.SettlementEntry
	payments     map[uuid.UUID]settlement.Payment
	applications []settlement.NoteApplication
	rates        []fx.ExchangeRate
	idempotency  map[idemKey]shared.IdempotencyRecord
}

func (s state) clone() state {
	return state{
		accounts:     maps.Clone(s.accounts),
		movements:    s.movements[:len(s.movements):len(s.movements)],
		documents:    maps.Clone(s.documents),
		entries:      s.entries[:len(s.entries):len(s.entries)],
		payments:     maps.Clone(s.payments),
		applications: s.applications[:len(s.applications):len(s.applications)],
		rates:        append([]fx.ExchangeRate(nil), s.rates...),
		idempotency:  maps.Clone(s.idempotency),
	}
}

// Store holds all tables for one test.
type Store struct {
	mu        sync.Mutex
	data      state
	conflicts int
	lockLog   [][]shared.LockTarget
	commits   int
}

// New returns an empty store.
func New() *Store {
	return &Store{data: state{
		accounts:    map[uuid.UUID]accounts.Account{},
		documents:   map[uuid.UUID]documents.Document{},
		payments:    map[uuid.UUID]settlement.Payment{},
		idempotency: map[idemKey]shared.IdempotencyRecord{},
	}}
}

// InjectConflicts makes the next n transactions fail at commit with a
// concurrency conflict after their writes were applied.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// LockLog returns the lock sequence of every committed transaction that
// took row locks.
func (s *Store) LockLog() [][]shared.LockTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]shared.LockTarget, len(s.lockLog))
	for i, seq := range s.lockLog {
		out[i] = append([]shared.LockTarget(nil), seq...)
	}
	return out
}

// Commits reports how many transactions committed.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Corrupt lets tests overwrite stored account balances to provoke drift.
func (s *Store) Corrupt(tenantID, accountID uuid.UUID, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.data.accounts[accountID]; ok && a.TenantID == tenantID {
		a.CurrentBalance = balance
		s.data.accounts[accountID] = a
	}
}

func (s *Store) withTx(ctx context.Context, fn func(*tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrConcurrencyConflict, err)
	}
	saved := s.data.clone()
	t := &tx{store: s}
	if err := fn(t); err != nil {
		s.data = saved
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		s.data = saved
		return fmt.Errorf("%w: injected serialization failure", shared.ErrConcurrencyConflict)
	}
	if err := ctx.Err(); err != nil {
		s.data = saved
		return fmt.Errorf("%w: %v", shared.ErrConcurrencyConflict, err)
	}
	if len(t.locks) > 0 {
		s.lockLog = append(s.lockLog, t.locks)
	}
	s.commits++
	return nil
}

// Accounts returns the accounts repository view.
func (s *Store) Accounts() *AccountsRepo { return &AccountsRepo{s} }

// Ledger returns the ledger repository view.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s} }

// Documents returns the documents repository view.
func (s *Store) Documents() *DocumentsRepo { return &DocumentsRepo{s} }

// Settlement returns the settlement repository view.
func (s *Store) Settlement() *SettlementRepo { return &SettlementRepo{s} }

// Rates returns the exchange rate repository view.
func (s *Store) Rates() *RatesRepo { return &RatesRepo{s} }

// AccountsRepo implements accounts.RepositoryPort.
type AccountsRepo struct{ *Store }

func (r *AccountsRepo) WithTx(ctx context.Context, fn func(context.Context, accounts.TxRepository) error) error {
	return r.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// LedgerRepo implements ledger.RepositoryPort.
type LedgerRepo struct{ *Store }

func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// DocumentsRepo implements documents.RepositoryPort.
type DocumentsRepo struct{ *Store }

func (r *DocumentsRepo) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	return r.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// SettlementRepo implements settlement.RepositoryPort.
type SettlementRepo struct{ *Store }

func (r *SettlementRepo) WithTx(ctx context.Context, fn func(context.Context, settlement.TxRepository) error) error {
	return r.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// RatesRepo implements fx.RepositoryPort.
type RatesRepo struct{ *Store }

func (r *RatesRepo) WithTx(ctx context.Context, fn func(context.Context, fx.TxRepository) error) error {
	return r.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *Store) GetAccount(_ context.Context, tenantID, id uuid.UUID) (accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.account(tenantID, id)
}

func (s *Store) ListAccounts(_ context.Context, tenantID uuid.UUID, filter accounts.ListFilter) ([]accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.Account
	for _, a := range s.data.accounts {
		if a.TenantID != tenantID {
			continue
		}
		if filter.Kind != "" && a.Kind != filter.Kind {
			continue
		}
		if filter.Currency != "" && a.Currency != filter.Currency {
			continue
		}
		if !filter.IncludeInactive && !a.IsActive {
			continue
		}
		if !filter.IncludeDeleted && a.Deleted() {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		if out[i].Currency != out[j].Currency {
			return out[i].Currency < out[j].Currency
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetMovement(_ context.Context, tenantID, id uuid.UUID) (ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.movement(tenantID, id)
}

func (s *Store) ListMovements(_ context.Context, tenantID, accountID uuid.UUID, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Movement
	for _, m := range s.data.movements {
		if m.TenantID != tenantID || m.AccountID != accountID {
			continue
		}
		if filter.Kind != "" && m.Kind != filter.Kind {
			continue
		}
		if !filter.From.IsZero() && m.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.Date.After(filter.To) {
			continue
		}
		out = append(out, m)
	}
	start, end := filter.Page.Window(len(out))
	return out[start:end], nil
}

func (s *Store) BalanceSnapshots(context.Context) ([]ledger.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[uuid.UUID]decimal.Decimal{}
	for _, m := range s.data.movements {
		sums[m.AccountID] = sums[m.AccountID].Add(m.Amount)
	}
	out := make([]ledger.BalanceSnapshot, 0, len(s.data.accounts))
	for _, a := range s.data.accounts {
		out = append(out, ledger.BalanceSnapshot{
			TenantID:  a.TenantID,
			AccountID: a.ID,
			Currency:  a.Currency,
			Stored:    a.CurrentBalance,
			Computed:  sums[a.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

func (s *Store) GetDocument(_ context.Context, tenantID, id uuid.UUID) (documents.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.document(tenantID, id)
}

func (s *Store) ListDocuments(_ context.Context, tenantID uuid.UUID, filter documents.ListFilter) ([]documents.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []documents.Document
	for _, d := range s.data.documents {
		if d.TenantID != tenantID {
			continue
		}
		if filter.Kind != "" && d.Kind != filter.Kind {
			continue
		}
		if filter.Type != "" && d.Type != filter.Type {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.ContactID != nil && (d.ContactID == nil || *d.ContactID != *filter.ContactID) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	start, end := filter.Page.Window(len(out))
	return out[start:end], nil
}

func (s *Store) ListSettlementEntries(_ context.Context, tenantID, documentID uuid.UUID) ([]documents.SettlementEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []documents.SettlementEntry
	for _, e := range s.data.entries {
		if e.TenantID == tenantID && e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) DocumentSnapshots(context.Context) ([]documents.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[uuid.UUID]decimal.Decimal{}
	for _, e := range s.data.entries {
		sums[e.DocumentID] = sums[e.DocumentID].Add(e.Amount)
	}
	out := make([]documents.Snapshot, 0, len(s.data.documents))
	for _, d := range s.data.documents {
		out = append(out, documents.Snapshot{
			TenantID:   d.TenantID,
			DocumentID: d.ID,
			Kind:       d.Kind,
			Status:     d.Status,
			Total:      d.Total,
			Settled:    d.Settled,
			Balance:    d.Balance,
			EntrySum:   sums[d.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID.String() < out[j].DocumentID.String() })
	return out, nil
}

func (s *Store) GetPayment(_ context.Context, tenantID, id uuid.UUID) (settlement.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.payment(tenantID, id)
}

func (s *Store) ListPayments(_ context.Context, tenantID uuid.UUID, filter settlement.PaymentFilter) ([]settlement.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []settlement.Payment
	for _, p := range s.data.payments {
		if p.TenantID != tenantID {
			continue
		}
		if filter.AccountID != nil && p.AccountID != *filter.AccountID {
			continue
		}
		if filter.DocumentID != nil && (p.DocumentID == nil || *p.DocumentID != *filter.DocumentID) {
			continue
		}
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	start, end := filter.Page.Window(len(out))
	return out[start:end], nil
}

func (s *Store) ListNoteApplications(_ context.Context, tenantID, noteID uuid.UUID) ([]settlement.NoteApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.noteApplications(tenantID, noteID), nil
}

func (s *Store) ActiveRate(_ context.Context, tenantID uuid.UUID, base, quote money.Currency) (fx.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *fx.ExchangeRate
	for i := range s.data.rates {
		r := &s.data.rates[i]
		if r.TenantID != tenantID || r.Base != base || r.Quote != quote || !r.Active {
			continue
		}
		if best == nil || r.EffectiveDate.After(best.EffectiveDate) ||
			(r.EffectiveDate.Equal(best.EffectiveDate) && r.CreatedAt.After(best.CreatedAt)) {
			best = r
		}
	}
	if best == nil {
		return fx.ExchangeRate{}, shared.ErrNotFound
	}
	return *best, nil
}

func (s *Store) ListRates(_ context.Context, tenantID uuid.UUID, filter fx.ListFilter) ([]fx.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fx.ExchangeRate
	for _, r := range s.data.rates {
		if r.TenantID != tenantID {
			continue
		}
		if filter.Base != "" && r.Base != filter.Base {
			continue
		}
		if filter.Quote != "" && r.Quote != filter.Quote {
			continue
		}
		if filter.ActiveOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.After(out[j].EffectiveDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := shared.Page{Limit: filter.Limit}.Normalize().Limit
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CleanupIdempotency drops records older than retention.
func (s *Store) CleanupIdempotency(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	var n int64
	for k, rec := range s.data.idempotency {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.data.idempotency, k)
			n++
		}
	}
	return n, nil
}

func (d *state) account(tenantID, id uuid.UUID) (accounts.Account, error) {
	a, ok := d.accounts[id]
	if !ok || a.TenantID != tenantID {
		return accounts.Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (d *state) movement(tenantID, id uuid.UUID) (ledger.Movement, error) {
	for _, m := range d.movements {
		if m.ID == id && m.TenantID == tenantID {
			return m, nil
		}
	}
	return ledger.Movement{}, shared.ErrNotFound
}

func (d *state) document(tenantID, id uuid.UUID) (documents.Document, error) {
	doc, ok := d.documents[id]
	if !ok || doc.TenantID != tenantID {
		return documents.Document{}, shared.ErrNotFound
	}
	return doc.Clone(), nil
}

func (d *state) payment(tenantID, id uuid.UUID) (settlement.Payment, error) {
	p, ok := d.payments[id]
	if !ok || p.TenantID != tenantID {
		return settlement.Payment{}, shared.ErrNotFound
	}
	return p, nil
}

func (d *state) noteApplications(tenantID, noteID uuid.UUID) []settlement.NoteApplication {
	var out []settlement.NoteApplication
	for _, a := range d.applications {
		if a.TenantID == tenantID && a.NoteID == noteID {
			out = append(out, a)
		}
	}
	return out
}
