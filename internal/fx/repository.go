package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/platform/db"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Repository persists exchange rates in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	db db.DBTX
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const rateColumns = `id, tenant_id, base_currency, quote_currency, rate, effective_date, source, active, created_at`

func scanRate(row pgx.Row) (ExchangeRate, error) {
	var e ExchangeRate
	var base, quote string
	err := row.Scan(&e.ID, &e.TenantID, &base, &quote, &e.Rate, &e.EffectiveDate, &e.Source, &e.Active, &e.CreatedAt)
	if err != nil {
		return ExchangeRate{}, err
	}
	e.Base = money.Currency(strings.TrimSpace(base))
	e.Quote = money.Currency(strings.TrimSpace(quote))
	return e, nil
}

// ActiveRate fetches the active rate for a pair.
func (r *Repository) ActiveRate(ctx context.Context, tenantID uuid.UUID, base, quote money.Currency) (ExchangeRate, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates
		WHERE tenant_id=$1 AND base_currency=$2 AND quote_currency=$3 AND active
		ORDER BY effective_date DESC, created_at DESC LIMIT 1`, tenantID, string(base), string(quote))
	rate, err := scanRate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExchangeRate{}, shared.ErrNotFound
		}
		return ExchangeRate{}, err
	}
	return rate, nil
}

// ListRates lists rates newest first.
func (r *Repository) ListRates(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]ExchangeRate, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.Base != "" {
		args = append(args, string(filter.Base))
		conditions = append(conditions, fmt.Sprintf("base_currency = $%d", len(args)))
	}
	if filter.Quote != "" {
		args = append(args, string(filter.Quote))
		conditions = append(conditions, fmt.Sprintf("quote_currency = $%d", len(args)))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active")
	}
	limit := shared.Page{Limit: filter.Limit}.Normalize().Limit
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM exchange_rates WHERE %s ORDER BY effective_date DESC, created_at DESC LIMIT $%d`,
		rateColumns, strings.Join(conditions, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExchangeRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

func (r *txRepo) DeactivateRates(ctx context.Context, tenantID uuid.UUID, base, quote money.Currency) error {
	_, err := r.db.Exec(ctx, `UPDATE exchange_rates SET active = FALSE WHERE tenant_id=$1 AND base_currency=$2 AND quote_currency=$3 AND active`,
		tenantID, string(base), string(quote))
	return err
}

func (r *txRepo) InsertRate(ctx context.Context, rate ExchangeRate) error {
	_, err := r.db.Exec(ctx, `INSERT INTO exchange_rates (`+rateColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rate.ID, rate.TenantID, string(rate.Base), string(rate.Quote), rate.Rate, rate.EffectiveDate, rate.Source, rate.Active, rate.CreatedAt)
	return err
}

// RateColumns splits an optional stamped rate into nullable column values.
func RateColumns(rate *Rate) (*string, *string, decimal.NullDecimal) {
	if rate == nil {
		return nil, nil, decimal.NullDecimal{}
	}
	base, quote := string(rate.Base), string(rate.Quote)
	return &base, &quote, decimal.NullDecimal{Decimal: rate.Value, Valid: true}
}

// RateFromColumns is the inverse of RateColumns.
func RateFromColumns(base, quote *string, value decimal.NullDecimal) *Rate {
	if base == nil || quote == nil || !value.Valid {
		return nil
	}
	return &Rate{
		Base:  money.Currency(strings.TrimSpace(*base)),
		Quote: money.Currency(strings.TrimSpace(*quote)),
		Value: value.Decimal,
	}
}
