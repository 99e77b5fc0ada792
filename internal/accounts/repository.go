package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/db"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Repository persists accounts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Queries implements TxRepository over a pool or a transaction. Other
// packages embed it to share the account rows inside their own units of work.
type Queries struct {
	db db.DBTX
}

// NewQueries binds account queries to q.
func NewQueries(q db.DBTX) *Queries {
	return &Queries{db: q}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewQueries(tx))
	})
}

const accountColumns = `id, tenant_id, name, name_ar, kind, currency, current_balance, is_default, is_active, created_at, updated_at, deleted_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var kind, currency string
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.NameAr, &kind, &currency, &a.CurrentBalance,
		&a.IsDefault, &a.IsActive, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	a.Kind = Kind(kind)
	a.Currency = money.Currency(strings.TrimSpace(currency))
	return a, nil
}

// GetAccount loads an account without locking it.
func (r *Repository) GetAccount(ctx context.Context, tenantID, id uuid.UUID) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2`, tenantID, id))
}

// ListAccounts lists accounts, default first.
func (r *Repository) ListAccounts(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Account, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Currency != "" {
		args = append(args, string(filter.Currency))
		conditions = append(conditions, fmt.Sprintf("currency = $%d", len(args)))
	}
	if !filter.IncludeInactive {
		conditions = append(conditions, "is_active")
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY is_default DESC, currency, name`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) InsertAccount(ctx context.Context, a Account) error {
	_, err := q.db.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.TenantID, a.Name, a.NameAr, string(a.Kind), string(a.Currency), a.CurrentBalance,
		a.IsDefault, a.IsActive, a.CreatedAt, a.UpdatedAt, a.DeletedAt)
	return err
}

func (q *Queries) GetAccountForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
}

func (q *Queries) UpdateAccount(ctx context.Context, a Account) error {
	tag, err := q.db.Exec(ctx, `UPDATE accounts SET name=$3, name_ar=$4, current_balance=$5, is_default=$6, is_active=$7, updated_at=$8, deleted_at=$9
		WHERE tenant_id=$1 AND id=$2`,
		a.TenantID, a.ID, a.Name, a.NameAr, a.CurrentBalance, a.IsDefault, a.IsActive, a.UpdatedAt, a.DeletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (q *Queries) ClearDefaultAccount(ctx context.Context, tenantID uuid.UUID, currency money.Currency) error {
	_, err := q.db.Exec(ctx, `UPDATE accounts SET is_default = FALSE, updated_at = NOW() WHERE tenant_id=$1 AND currency=$2 AND is_default`,
		tenantID, string(currency))
	return err
}

func (q *Queries) CountAccountActivity(ctx context.Context, tenantID, id uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM movements WHERE tenant_id=$1 AND account_id=$2 AND kind <> 'initial'`, tenantID, id).Scan(&n)
	return n, err
}

// LockAccount takes the row lock without reading the row back.
func (q *Queries) LockAccount(ctx context.Context, tenantID, id uuid.UUID) error {
	var locked uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT id FROM accounts WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewRuleError(shared.ErrNotFound, "account not found", map[string]string{"account_id": id.String()})
	}
	return err
}
