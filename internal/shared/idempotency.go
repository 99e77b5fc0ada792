package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRecord stores the outcome of a keyed command so a replay can
// return it unchanged.
type IdempotencyRecord struct {
	TenantID  uuid.UUID
	Key       string
	Operation string
	Result    []byte
	CreatedAt time.Time
}

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Lookup returns the record stored for key, or ErrNotFound.
func (s *IdempotencyStore) Lookup(ctx context.Context, q Querier, tenantID uuid.UUID, key string) (IdempotencyRecord, error) {
	if key == "" {
		return IdempotencyRecord{}, errors.New("idempotency key required")
	}
	rec := IdempotencyRecord{TenantID: tenantID, Key: key}
	err := q.QueryRow(ctx, `SELECT operation, result, created_at FROM idempotency_keys WHERE tenant_id=$1 AND key=$2`, tenantID, key).
		Scan(&rec.Operation, &rec.Result, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IdempotencyRecord{}, ErrNotFound
		}
		return IdempotencyRecord{}, err
	}
	return rec, nil
}

// Save inserts the record within the caller's transaction. A concurrent
// request holding the same key surfaces as ErrConcurrencyConflict so the
// retry observes the winner's result.
func (s *IdempotencyStore) Save(ctx context.Context, q Querier, rec IdempotencyRecord) error {
	if rec.Key == "" {
		return errors.New("idempotency key required")
	}
	if rec.Operation == "" {
		return errors.New("idempotency operation required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, key, operation, result, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.TenantID, rec.Key, rec.Operation, rec.Result, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("idempotency key %q: %w", rec.Key, ErrConcurrencyConflict)
		}
		return err
	}
	return nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
