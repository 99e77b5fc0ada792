package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/accounts"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/db"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Repository persists movements in PostgreSQL.
type Repository struct {
	*accounts.Repository
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Repository: accounts.NewRepository(pool), pool: pool}
}

// Queries implements TxRepository over a pool or a transaction.
type Queries struct {
	*accounts.Queries
	db db.DBTX
}

// NewQueries binds ledger queries to q.
func NewQueries(q db.DBTX) *Queries {
	return &Queries{Queries: accounts.NewQueries(q), db: q}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewQueries(tx))
	})
}

const movementColumns = `id, tenant_id, account_id, kind, amount, balance_after, currency, reference_type, reference_id,
	counterpart_id, rate_base, rate_quote, rate_value, reversal_of, description, movement_date, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var kind, currency string
	var rateBase, rateQuote *string
	var rateValue decimal.NullDecimal
	err := row.Scan(&m.ID, &m.TenantID, &m.AccountID, &kind, &m.Amount, &m.BalanceAfter, &currency, &m.ReferenceType,
		&m.ReferenceID, &m.CounterpartID, &rateBase, &rateQuote, &rateValue, &m.ReversalOf, &m.Description, &m.Date, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, shared.ErrNotFound
		}
		return Movement{}, err
	}
	m.Kind = Kind(kind)
	m.Currency = money.Currency(strings.TrimSpace(currency))
	m.Rate = fx.RateFromColumns(rateBase, rateQuote, rateValue)
	return m, nil
}

// GetMovement loads one movement.
func (r *Repository) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (Movement, error) {
	return NewQueries(r.pool).GetMovement(ctx, tenantID, id)
}

// ListMovements lists an account's movements oldest first.
func (r *Repository) ListMovements(ctx context.Context, tenantID, accountID uuid.UUID, filter MovementFilter) ([]Movement, error) {
	conditions := []string{"tenant_id = $1", "account_id = $2"}
	args := []any{tenantID, accountID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("movement_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("movement_date <= $%d", len(args)))
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM movements WHERE %s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		movementColumns, strings.Join(conditions, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BalanceSnapshots compares every account's stored balance with the sum of
// its movements.
func (r *Repository) BalanceSnapshots(ctx context.Context) ([]BalanceSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.tenant_id, a.id, a.currency, a.current_balance, COALESCE(SUM(m.amount), 0)
		FROM accounts a LEFT JOIN movements m ON m.account_id = a.id
		GROUP BY a.tenant_id, a.id, a.currency, a.current_balance`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceSnapshot
	for rows.Next() {
		var snap BalanceSnapshot
		var currency string
		if err := rows.Scan(&snap.TenantID, &snap.AccountID, &currency, &snap.Stored, &snap.Computed); err != nil {
			return nil, err
		}
		snap.Currency = money.Currency(strings.TrimSpace(currency))
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (q *Queries) InsertMovement(ctx context.Context, m Movement) error {
	rateBase, rateQuote, rateValue := fx.RateColumns(m.Rate)
	_, err := q.db.Exec(ctx, `INSERT INTO movements (`+movementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		m.ID, m.TenantID, m.AccountID, string(m.Kind), m.Amount, m.BalanceAfter, string(m.Currency), m.ReferenceType,
		m.ReferenceID, m.CounterpartID, rateBase, rateQuote, rateValue, m.ReversalOf, m.Description, m.Date, m.CreatedAt)
	return err
}

func (q *Queries) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (Movement, error) {
	return scanMovement(q.db.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}
