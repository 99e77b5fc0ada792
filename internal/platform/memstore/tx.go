package memstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/settlement"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// tx runs with the store mutex held. Writes go straight to the live state;
// withTx restores the snapshot on failure.
type tx struct {
	store *Store
	locks []shared.LockTarget
}

func (t *tx) data() *state { return &t.store.data }

func (t *tx) InsertAccount(_ context.Context, a accounts.Account) error {
	if _, ok := t.data().accounts[a.ID]; ok {
		return fmt.Errorf("memstore: account %s exists", a.ID)
	}
	t.data().accounts[a.ID] = a
	return nil
}

func (t *tx) GetAccountForUpdate(_ context.Context, tenantID, id uuid.UUID) (accounts.Account, error) {
	return t.data().account(tenantID, id)
}

func (t *tx) UpdateAccount(_ context.Context, a accounts.Account) error {
	if _, err := t.data().account(a.TenantID, a.ID); err != nil {
		return err
	}
	t.data().accounts[a.ID] = a
	return nil
}

func (t *tx) ClearDefaultAccount(_ context.Context, tenantID uuid.UUID, currency money.Currency) error {
	for id, a := range t.data().accounts {
		if a.TenantID == tenantID && a.Currency == currency && a.IsDefault {
			a.IsDefault = false
			t.data().accounts[id] = a
		}
	}
	return nil
}

func (t *tx) CountAccountActivity(_ context.Context, tenantID, id uuid.UUID) (int, error) {
	n := 0
	for _, m := range t.data().movements {
		if m.TenantID == tenantID && m.AccountID == id && m.Kind != ledger.KindInitial {
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertMovement(_ context.Context, m ledger.Movement) error {
	t.data().movements = append(t.data().movements, m)
	return nil
}

func (t *tx) GetMovement(_ context.Context, tenantID, id uuid.UUID) (ledger.Movement, error) {
	return t.data().movement(tenantID, id)
}

func (t *tx) InsertDocument(_ context.Context, d documents.Document) error {
	if _, ok := t.data().documents[d.ID]; ok {
		return fmt.Errorf("memstore: document %s exists", d.ID)
	}
	t.data().documents[d.ID] = d.Clone()
	return nil
}

func (t *tx) GetDocumentForUpdate(_ context.Context, tenantID, id uuid.UUID) (documents.Document, error) {
	return t.data().document(tenantID, id)
}

func (t *tx) UpdateDocument(_ context.Context, d documents.Document) error {
	if _, err := t.data().document(d.TenantID, d.ID); err != nil {
		return err
	}
	t.data().documents[d.ID] = d.Clone()
	return nil
}

func (t *tx) InsertSettlementEntry(_ context.Context, e documents.SettlementEntry) error {
	t.data().entries = append(t.data().entries, e)
	return nil
}

func (t *tx) DeactivateRates(_ context.Context, tenantID uuid.UUID, base, quote money.Currency) error {
	for i, r := range t.data().rates {
		if r.TenantID == tenantID && r.Base == base && r.Quote == quote {
			t.data().rates[i].Active = false
		}
	}
	return nil
}

func (t *tx) InsertRate(_ context.Context, rate fx.ExchangeRate) error {
	t.data().rates = append(t.data().rates, rate)
	return nil
}

// LockRows checks every target exists and records the acquisition order.
func (t *tx) LockRows(_ context.Context, tenantID uuid.UUID, targets []shared.LockTarget) error {
	for _, target := range targets {
		switch target.Kind {
		case shared.LockAccount:
			if _, err := t.data().account(tenantID, target.ID); err != nil {
				return shared.NewRuleError(shared.ErrNotFound, "account not found", map[string]string{"account_id": target.ID.String()})
			}
		case shared.LockDocument:
			if _, err := t.data().document(tenantID, target.ID); err != nil {
				return shared.NewRuleError(shared.ErrNotFound, "document not found", map[string]string{"document_id": target.ID.String()})
			}
		default:
			return fmt.Errorf("memstore: unknown lock kind %q", target.Kind)
		}
		t.locks = append(t.locks, target)
	}
	return nil
}

func (t *tx) GetIdempotency(_ context.Context, tenantID uuid.UUID, key string) (shared.IdempotencyRecord, error) {
	rec, ok := t.data().idempotency[idemKey{tenant: tenantID, key: key}]
	if !ok {
		return shared.IdempotencyRecord{}, shared.ErrNotFound
	}
	return rec, nil
}

func (t *tx) SaveIdempotency(_ context.Context, rec shared.IdempotencyRecord) error {
	k := idemKey{tenant: rec.TenantID, key: rec.Key}
	if _, ok := t.data().idempotency[k]; ok {
		return fmt.Errorf("idempotency key %q: %w", rec.Key, shared.ErrConcurrencyConflict)
	}
	t.data().idempotency[k] = rec
	return nil
}

func (t *tx) InsertPayment(_ context.Context, p settlement.Payment) error {
	if _, ok := t.data().payments[p.ID]; ok {
		return fmt.Errorf("memstore: payment %s exists", p.ID)
	}
	t.data().payments[p.ID] = p
	return nil
}

func (t *tx) GetPaymentForUpdate(_ context.Context, tenantID, id uuid.UUID) (settlement.Payment, error) {
	return t.data().payment(tenantID, id)
}

func (t *tx) UpdatePayment(_ context.Context, p settlement.Payment) error {
	if _, err := t.data().payment(p.TenantID, p.ID); err != nil {
		return err
	}
	t.data().payments[p.ID] = p
	return nil
}

func (t *tx) InsertNoteApplication(_ context.Context, a settlement.NoteApplication) error {
	t.data().applications = append(t.data().applications, a)
	return nil
}

func (t *tx) ListNoteApplications(_ context.Context, tenantID, noteID uuid.UUID) ([]settlement.NoteApplication, error) {
	return t.data().noteApplications(tenantID, noteID), nil
}
