package documents

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/abooddev/accounting-saas/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error)
	ListDocuments(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Document, error)
	ListSettlementEntries(ctx context.Context, tenantID, documentID uuid.UUID) ([]SettlementEntry, error)
	DocumentSnapshots(ctx context.Context) ([]Snapshot, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles document capture and manual lifecycle moves. Money moves
// through the settlement engine.
type Service struct {
	repo    RepositoryPort
	tracker *Tracker
	audit   AuditPort
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, tracker *Tracker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, tracker: tracker, audit: audit, logger: logger}
}

// Create stores a new draft document.
func (s *Service) Create(ctx context.Context, in CreateInput) (Document, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Document{}, err
	}
	doc, err := s.tracker.Build(tenantID, in)
	if err != nil {
		return Document{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if doc.Kind.IsNote() && doc.InvoiceID != nil {
			origin, err := tx.GetDocumentForUpdate(ctx, tenantID, *doc.InvoiceID)
			if err != nil {
				return err
			}
			if origin.Kind != KindInvoice {
				return shared.Invalid("note must reference an invoice")
			}
		}
		return tx.InsertDocument(ctx, doc)
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, "documents:create", doc, map[string]any{
		"kind":     doc.Kind,
		"total":    doc.Total.String(),
		"currency": doc.Currency,
	})
	s.logger.Info("document created",
		slog.String("tenant_id", tenantID.String()),
		slog.String("document_id", doc.ID.String()),
		slog.String("kind", string(doc.Kind)),
	)
	return doc, nil
}

// Get returns one document with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Document{}, err
	}
	return s.repo.GetDocument(ctx, tenantID, id)
}

// List returns documents matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	filter.Page = filter.Page.Normalize()
	return s.repo.ListDocuments(ctx, tenantID, filter)
}

// ListSettlements returns the entries behind a document's settled amount.
func (s *Service) ListSettlements(ctx context.Context, id uuid.UUID) ([]SettlementEntry, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDocument(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.repo.ListSettlementEntries(ctx, tenantID, id)
}

// Transition applies a manual status change such as sending a purchase
// order or cancelling an unpaid invoice.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status) (Document, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return Document{}, err
	}
	var result Document
	var from Status
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetDocumentForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		from = current.Status
		result, err = s.tracker.Transition(ctx, tx, tenantID, id, to)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.recordAudit(ctx, "documents:transition", result, map[string]any{"from": from, "to": to})
	return result, nil
}

// Reconcile checks Settled against its entries, the balance identity and the
// settled statuses of every document.
func (s *Service) Reconcile(ctx context.Context) ([]Violation, error) {
	snapshots, err := s.repo.DocumentSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, snap := range snapshots {
		add := func(rule, detail string) {
			out = append(out, Violation{TenantID: snap.TenantID, DocumentID: snap.DocumentID, Kind: snap.Kind, Rule: rule, Detail: detail})
			s.logger.Warn("document invariant broken",
				slog.String("document_id", snap.DocumentID.String()),
				slog.String("rule", rule),
				slog.String("detail", detail),
			)
		}
		if !snap.Settled.Equal(snap.EntrySum) {
			add("settled_matches_entries", "settled "+snap.Settled.String()+" entries "+snap.EntrySum.String())
		}
		if !snap.Balance.Equal(snap.Total.Sub(snap.Settled)) {
			add("balance_identity", "balance "+snap.Balance.String()+" total "+snap.Total.String()+" settled "+snap.Settled.String())
		}
		if snap.Settled.IsNegative() || snap.Settled.GreaterThan(snap.Total) {
			add("settled_range", "settled "+snap.Settled.String()+" total "+snap.Total.String())
		}
		if !snap.Kind.HasStatus(snap.Status) {
			add("status_set", "status "+string(snap.Status))
		}
		switch {
		case snap.Kind == KindInvoice && (snap.Status == StatusPaid) != snap.Balance.IsZero():
			add("paid_status", "status "+string(snap.Status)+" balance "+snap.Balance.String())
		case snap.Kind.IsNote() && (snap.Status == StatusApplied) != snap.Balance.IsZero():
			add("note_applied_status", "status "+string(snap.Status)+" balance "+snap.Balance.String())
		}
	}
	s.logger.Info("document reconciliation", slog.Int("documents", len(snapshots)), slog.Int("violations", len(out)))
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, doc Document, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: doc.TenantID,
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   string(doc.Kind),
		EntityID: doc.ID.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
