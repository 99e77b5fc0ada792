package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/abooddev/accounting-saas/internal/shared"
)

func TestClassifyConflicts(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03", "57014"} {
		err := Classify(fmt.Errorf("lock rows: %w", &pgconn.PgError{Code: code, Message: "could not obtain lock"}))
		require.ErrorIs(t, err, shared.ErrConcurrencyConflict, code)
	}
	require.ErrorIs(t, Classify(context.DeadlineExceeded), shared.ErrConcurrencyConflict)
}

func TestClassifyPassesThrough(t *testing.T) {
	require.NoError(t, Classify(nil))
	require.ErrorIs(t, Classify(pgx.ErrNoRows), shared.ErrNotFound)

	unique := &pgconn.PgError{Code: "23505"}
	err := Classify(unique)
	require.False(t, errors.Is(err, shared.ErrConcurrencyConflict))
	require.True(t, IsUniqueViolation(err))

	rule := shared.Invalid("bad amount")
	require.Equal(t, rule, Classify(rule))
}
