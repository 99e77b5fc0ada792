package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditLog is one committed ledger command as stored in audit_logs.
type AuditLog struct {
	TenantID uuid.UUID
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (l AuditLog) validate() error {
	switch {
	case l.TenantID == uuid.Nil:
		return ErrTenantRequired
	case l.Action == "", l.Entity == "", l.EntityID == "":
		return Invalid("audit log needs action, entity and entity id")
	}
	return nil
}

// AuditLogger appends audit records through q.
type AuditLogger struct {
	q   Querier
	now func() time.Time
}

// NewAuditLogger returns an AuditLogger writing through q, usually the pool.
func NewAuditLogger(q Querier) *AuditLogger {
	return &AuditLogger{q: q, now: time.Now}
}

// Record inserts entry. A missing actor is stored as NULL and a zero At is
// stamped with the current time.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if err := entry.validate(); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = l.now().UTC()
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	if _, err := l.q.Exec(ctx, `
		INSERT INTO audit_logs (tenant_id, actor, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		entry.TenantID, entry.Actor, entry.Action, entry.Entity, entry.EntityID, payload, entry.At,
	); err != nil {
		return fmt.Errorf("audit: insert %s %s: %w", entry.Entity, entry.Action, err)
	}
	return nil
}
