package shared

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type execRecorder struct {
	args [][]any
}

func (r *execRecorder) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	r.args = append(r.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestAuditLoggerStampsTimeAndMeta(t *testing.T) {
	q := &execRecorder{}
	logger := NewAuditLogger(q)
	fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	tenantID := uuid.New()
	require.NoError(t, logger.Record(context.Background(), AuditLog{
		TenantID: tenantID,
		Action:   "payment.recorded",
		Entity:   "payment",
		EntityID: "p-1",
	}))

	require.Len(t, q.args, 1)
	args := q.args[0]
	require.Equal(t, tenantID, args[0])
	require.JSONEq(t, `{}`, string(args[5].([]byte)))
	require.Equal(t, fixed, args[6])
}

func TestAuditLoggerRejectsIncompleteEntries(t *testing.T) {
	logger := NewAuditLogger(&execRecorder{})
	err := logger.Record(context.Background(), AuditLog{Action: "x", Entity: "y", EntityID: "z"})
	require.ErrorIs(t, err, ErrTenantRequired)

	err = logger.Record(context.Background(), AuditLog{TenantID: uuid.New(), Entity: "payment"})
	require.ErrorIs(t, err, ErrValidation)
}
