package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/db"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Repository persists payments and note applications and opens the
// transactions every command runs in.
type Repository struct {
	pool      *pgxpool.Pool
	accounts  *accounts.Repository
	documents *documents.Repository
	idem      *shared.IdempotencyStore
	txOpts    db.TxOptions
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, opts db.TxOptions) *Repository {
	return &Repository{
		pool:      pool,
		accounts:  accounts.NewRepository(pool),
		documents: documents.NewRepository(pool),
		idem:      shared.NewIdempotencyStore(pool),
		txOpts:    opts,
	}
}

type (
	ledgerQueries   = ledger.Queries
	documentQueries = documents.Queries
)

// Queries implements TxRepository over a transaction.
type Queries struct {
	*ledgerQueries
	*documentQueries
	tx   db.DBTX
	idem *shared.IdempotencyStore
}

// NewQueries binds every query the engine needs to q.
func NewQueries(q db.DBTX, idem *shared.IdempotencyStore) *Queries {
	return &Queries{
		ledgerQueries:   ledger.NewQueries(q),
		documentQueries: documents.NewQueries(q),
		tx:              q,
		idem:            idem,
	}
}

// WithTx executes the callback inside repeatable-read transaction with the
// configured lock timeout.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, NewQueries(tx, r.idem))
	})
}

// GetAccount loads an account without locking it.
func (r *Repository) GetAccount(ctx context.Context, tenantID, id uuid.UUID) (accounts.Account, error) {
	return r.accounts.GetAccount(ctx, tenantID, id)
}

// GetDocument loads a document without locking it.
func (r *Repository) GetDocument(ctx context.Context, tenantID, id uuid.UUID) (documents.Document, error) {
	return r.documents.GetDocument(ctx, tenantID, id)
}

// CleanupIdempotency drops idempotency records older than the retention.
func (r *Repository) CleanupIdempotency(ctx context.Context, retention time.Duration) (int64, error) {
	return r.idem.Cleanup(ctx, retention)
}

const paymentColumns = `id, tenant_id, kind, account_id, document_id, contact_id, amount, currency, account_amount,
	document_amount, rate_base, rate_quote, rate_value, method, reference, notes, payment_date, movement_id, status,
	reversal_movement_id, reversal_reason, reversed_at, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var kind, currency, method, status string
	var rateBase, rateQuote *string
	var rateValue decimal.NullDecimal
	err := row.Scan(&p.ID, &p.TenantID, &kind, &p.AccountID, &p.DocumentID, &p.ContactID, &p.Amount, &currency,
		&p.AccountAmount, &p.DocumentAmount, &rateBase, &rateQuote, &rateValue, &method, &p.Reference, &p.Notes,
		&p.Date, &p.MovementID, &status, &p.ReversalMovementID, &p.ReversalReason, &p.ReversedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, shared.ErrNotFound
		}
		return Payment{}, err
	}
	p.Kind = PaymentKind(kind)
	p.Currency = money.Currency(strings.TrimSpace(currency))
	p.Method = Method(method)
	p.Status = PaymentStatus(status)
	p.Rate = fx.RateFromColumns(rateBase, rateQuote, rateValue)
	return p, nil
}

// GetPayment loads one payment.
func (r *Repository) GetPayment(ctx context.Context, tenantID, id uuid.UUID) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

// ListPayments lists payments, newest first.
func (r *Repository) ListPayments(ctx context.Context, tenantID uuid.UUID, filter PaymentFilter) ([]Payment, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.DocumentID != nil {
		args = append(args, *filter.DocumentID)
		conditions = append(conditions, fmt.Sprintf("document_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE %s ORDER BY payment_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListNoteApplications lists a note's applications and their reversals.
func (r *Repository) ListNoteApplications(ctx context.Context, tenantID, noteID uuid.UUID) ([]NoteApplication, error) {
	return listNoteApplications(ctx, r.pool, tenantID, noteID)
}

func listNoteApplications(ctx context.Context, q db.DBTX, tenantID, noteID uuid.UUID) ([]NoteApplication, error) {
	rows, err := q.Query(ctx, `SELECT id, tenant_id, note_id, invoice_id, amount, invoice_amount, rate_base, rate_quote,
		rate_value, reversal_of, created_at FROM note_applications WHERE tenant_id=$1 AND note_id=$2 ORDER BY created_at, id`,
		tenantID, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NoteApplication
	for rows.Next() {
		var a NoteApplication
		var rateBase, rateQuote *string
		var rateValue decimal.NullDecimal
		if err := rows.Scan(&a.ID, &a.TenantID, &a.NoteID, &a.InvoiceID, &a.Amount, &a.InvoiceAmount, &rateBase, &rateQuote,
			&rateValue, &a.ReversalOf, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Rate = fx.RateFromColumns(rateBase, rateQuote, rateValue)
		out = append(out, a)
	}
	return out, rows.Err()
}

// LockRows takes row locks in the given order.
func (q *Queries) LockRows(ctx context.Context, tenantID uuid.UUID, targets []shared.LockTarget) error {
	for _, target := range targets {
		var err error
		switch target.Kind {
		case shared.LockAccount:
			err = q.LockAccount(ctx, tenantID, target.ID)
		case shared.LockDocument:
			err = q.LockDocument(ctx, tenantID, target.ID)
		default:
			err = fmt.Errorf("settlement: unknown lock kind %q", target.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) GetIdempotency(ctx context.Context, tenantID uuid.UUID, key string) (shared.IdempotencyRecord, error) {
	return q.idem.Lookup(ctx, q.tx, tenantID, key)
}

func (q *Queries) SaveIdempotency(ctx context.Context, rec shared.IdempotencyRecord) error {
	return q.idem.Save(ctx, q.tx, rec)
}

func (q *Queries) InsertPayment(ctx context.Context, p Payment) error {
	rateBase, rateQuote, rateValue := fx.RateColumns(p.Rate)
	_, err := q.tx.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		p.ID, p.TenantID, string(p.Kind), p.AccountID, p.DocumentID, p.ContactID, p.Amount, string(p.Currency),
		p.AccountAmount, p.DocumentAmount, rateBase, rateQuote, rateValue, string(p.Method), p.Reference, p.Notes,
		p.Date, p.MovementID, string(p.Status), p.ReversalMovementID, p.ReversalReason, p.ReversedAt, p.CreatedAt)
	return err
}

func (q *Queries) GetPaymentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Payment, error) {
	return scanPayment(q.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (q *Queries) UpdatePayment(ctx context.Context, p Payment) error {
	_, err := q.tx.Exec(ctx, `UPDATE payments SET status=$3, reversal_movement_id=$4, reversal_reason=$5, reversed_at=$6
		WHERE tenant_id=$1 AND id=$2`, p.TenantID, p.ID, string(p.Status), p.ReversalMovementID, p.ReversalReason, p.ReversedAt)
	return err
}

func (q *Queries) InsertNoteApplication(ctx context.Context, a NoteApplication) error {
	rateBase, rateQuote, rateValue := fx.RateColumns(a.Rate)
	_, err := q.tx.Exec(ctx, `INSERT INTO note_applications (id, tenant_id, note_id, invoice_id, amount, invoice_amount,
		rate_base, rate_quote, rate_value, reversal_of, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.TenantID, a.NoteID, a.InvoiceID, a.Amount, a.InvoiceAmount, rateBase, rateQuote, rateValue, a.ReversalOf, a.CreatedAt)
	return err
}

func (q *Queries) ListNoteApplications(ctx context.Context, tenantID, noteID uuid.UUID) ([]NoteApplication, error) {
	return listNoteApplications(ctx, q.tx, tenantID, noteID)
}
