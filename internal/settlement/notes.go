package settlement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// IssueNote moves a draft credit or debit note to issued.
func (e *Engine) IssueNote(ctx context.Context, noteID uuid.UUID, key string) (documents.Document, error) {
	return execute(ctx, e, command[documents.Document]{
		op:       opIssueNote,
		key:      key,
		locks:    []shared.LockTarget{{Kind: shared.LockDocument, ID: noteID}},
		entity:   "note",
		entityID: func(d documents.Document) string { return d.ID.String() },
		run: func(ctx context.Context, tx TxRepository) (documents.Document, error) {
			tenantID, _ := shared.TenantFromContext(ctx)
			note, err := tx.GetDocumentForUpdate(ctx, tenantID, noteID)
			if err != nil {
				return documents.Document{}, err
			}
			if !note.Kind.IsNote() {
				return documents.Document{}, shared.Invalid("%s is not a note", note.Number)
			}
			return e.tracker.Transition(ctx, tx, tenantID, noteID, documents.StatusIssued)
		},
	})
}

// ApplyCreditNote applies part of a credit note to a sale invoice.
func (e *Engine) ApplyCreditNote(ctx context.Context, in ApplyNoteInput) (ApplyNoteResult, error) {
	return e.applyNote(ctx, documents.KindCreditNote, in)
}

// ApplyDebitNote applies part of a debit note to a purchase invoice.
func (e *Engine) ApplyDebitNote(ctx context.Context, in ApplyNoteInput) (ApplyNoteResult, error) {
	return e.applyNote(ctx, documents.KindDebitNote, in)
}

// ApplyNote applies a credit or debit note, whichever noteID names.
func (e *Engine) ApplyNote(ctx context.Context, in ApplyNoteInput) (ApplyNoteResult, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	note, err := e.repo.GetDocument(ctx, tenantID, in.NoteID)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	if !note.Kind.IsNote() {
		return ApplyNoteResult{}, shared.Invalid("%s is not a credit or debit note", note.Number)
	}
	return e.applyNote(ctx, note.Kind, in)
}

func (e *Engine) applyNote(ctx context.Context, kind documents.Kind, in ApplyNoteInput) (ApplyNoteResult, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	if !in.Amount.IsPositive() {
		return ApplyNoteResult{}, shared.Invalid("application amount must be positive")
	}
	note, err := e.repo.GetDocument(ctx, tenantID, in.NoteID)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	invoice, err := e.repo.GetDocument(ctx, tenantID, in.InvoiceID)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	rate, err := e.resolveRate(ctx, note.Currency, in.Rate, invoice.Currency)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	return execute(ctx, e, command[ApplyNoteResult]{
		op:  opApplyNote,
		key: in.IdempotencyKey,
		locks: []shared.LockTarget{
			{Kind: shared.LockDocument, ID: in.NoteID},
			{Kind: shared.LockDocument, ID: in.InvoiceID},
		},
		entity:   "note_application",
		entityID: func(r ApplyNoteResult) string { return r.Application.ID.String() },
		meta: func(r ApplyNoteResult) map[string]any {
			return map[string]any{
				"note_id":    r.Note.ID,
				"invoice_id": r.Invoice.ID,
				"amount":     r.Application.Amount.String(),
			}
		},
		run: func(ctx context.Context, tx TxRepository) (ApplyNoteResult, error) {
			return e.apply(ctx, tx, tenantID, kind, in, rate)
		},
	})
}

func (e *Engine) apply(ctx context.Context, tx TxRepository, tenantID uuid.UUID, kind documents.Kind, in ApplyNoteInput, rate *fx.Rate) (ApplyNoteResult, error) {
	note, err := tx.GetDocumentForUpdate(ctx, tenantID, in.NoteID)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	invoice, err := tx.GetDocumentForUpdate(ctx, tenantID, in.InvoiceID)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	if note.Kind != kind {
		return ApplyNoteResult{}, shared.Invalid("%s is not a %s", note.Number, kind)
	}
	wantType := documents.TypeSale
	source := documents.SourceCreditNote
	if kind == documents.KindDebitNote {
		wantType = documents.TypePurchase
		source = documents.SourceDebitNote
	}
	if invoice.Kind != documents.KindInvoice || invoice.Type != wantType {
		return ApplyNoteResult{}, shared.NewRuleError(shared.ErrValidation, "note cannot settle this document", map[string]string{
			"note_kind":     string(note.Kind),
			"document_kind": string(invoice.Kind),
			"document_type": string(invoice.Type),
		})
	}
	if note.ContactID != nil && invoice.ContactID != nil && *note.ContactID != *invoice.ContactID {
		return ApplyNoteResult{}, shared.Invalid("note and invoice belong to different contacts")
	}
	if err := e.precisions.Validate(in.Amount, note.Currency); err != nil {
		return ApplyNoteResult{}, err
	}
	invoiceAmount, err := e.converter.Convert(in.Amount, note.Currency, invoice.Currency, rate)
	if err != nil {
		return ApplyNoteResult{}, err
	}
	if in.Amount.GreaterThan(note.Balance) || invoiceAmount.GreaterThan(invoice.Balance) {
		return ApplyNoteResult{}, shared.NewRuleError(shared.ErrOverApplication, "application exceeds the remaining balance", map[string]string{
			"note_remaining":    e.precisions.Format(note.Balance, note.Currency),
			"note_currency":     string(note.Currency),
			"invoice_remaining": e.precisions.Format(invoice.Balance, invoice.Currency),
			"invoice_currency":  string(invoice.Currency),
			"requested":         e.precisions.Format(in.Amount, note.Currency),
		})
	}
	if !invoiceAmount.IsPositive() {
		return ApplyNoteResult{}, shared.Invalid("application rounds to zero in %s", invoice.Currency)
	}

	application := NoteApplication{
		ID:            uuid.New(),
		TenantID:      tenantID,
		NoteID:        note.ID,
		InvoiceID:     invoice.ID,
		Amount:        in.Amount,
		InvoiceAmount: invoiceAmount,
		Rate:          stamp(rate, note.Currency, invoice.Currency),
		CreatedAt:     e.now(),
	}
	note, err = e.tracker.RecordSettlement(ctx, tx, documents.SettlementInput{
		TenantID:   tenantID,
		DocumentID: note.ID,
		Amount:     in.Amount,
		SourceType: documents.SourceApplication,
		SourceID:   application.ID,
		Rate:       application.Rate,
	})
	if err != nil {
		return ApplyNoteResult{}, err
	}
	invoice, err = e.tracker.RecordSettlement(ctx, tx, documents.SettlementInput{
		TenantID:   tenantID,
		DocumentID: invoice.ID,
		Amount:     invoiceAmount,
		SourceType: source,
		SourceID:   application.ID,
		Rate:       application.Rate,
	})
	if err != nil {
		return ApplyNoteResult{}, err
	}
	if err := tx.InsertNoteApplication(ctx, application); err != nil {
		return ApplyNoteResult{}, err
	}
	return ApplyNoteResult{Note: note, Invoice: invoice, Application: application}, nil
}

// outstanding nets every application of a note against its compensating
// rows and returns the ones with value left, oldest first.
func outstanding(apps []NoteApplication) []NoteApplication {
	byID := make(map[uuid.UUID]*NoteApplication)
	var order []uuid.UUID
	for _, a := range apps {
		if a.ReversalOf == nil {
			cp := a
			byID[a.ID] = &cp
			order = append(order, a.ID)
		}
	}
	for _, a := range apps {
		if a.ReversalOf == nil {
			continue
		}
		if orig, ok := byID[*a.ReversalOf]; ok {
			orig.Amount = orig.Amount.Add(a.Amount)
			orig.InvoiceAmount = orig.InvoiceAmount.Add(a.InvoiceAmount)
		}
	}
	var out []NoteApplication
	for _, id := range order {
		if a := byID[id]; a.Amount.IsPositive() {
			out = append(out, *a)
		}
	}
	return out
}

// CancelNote cancels a draft or issued note. Every application still
// standing is reversed first, so the invoices get their balance back and
// the cancelled note contributes nothing.
func (e *Engine) CancelNote(ctx context.Context, noteID uuid.UUID, reason, key string) (CancelNoteResult, error) {
	tenantID, err := shared.RequireTenant(ctx)
	if err != nil {
		return CancelNoteResult{}, err
	}
	apps, err := e.repo.ListNoteApplications(ctx, tenantID, noteID)
	if err != nil {
		return CancelNoteResult{}, err
	}
	locks := []shared.LockTarget{{Kind: shared.LockDocument, ID: noteID}}
	scope := map[uuid.UUID]bool{}
	for _, a := range apps {
		scope[a.InvoiceID] = true
		locks = append(locks, shared.LockTarget{Kind: shared.LockDocument, ID: a.InvoiceID})
	}
	reason = strings.TrimSpace(reason)
	return execute(ctx, e, command[CancelNoteResult]{
		op:       opCancelNote,
		key:      key,
		locks:    locks,
		entity:   "note",
		entityID: func(r CancelNoteResult) string { return r.Note.ID.String() },
		meta: func(r CancelNoteResult) map[string]any {
			return map[string]any{"reason": reason, "invoices_restored": len(r.Invoices)}
		},
		run: func(ctx context.Context, tx TxRepository) (CancelNoteResult, error) {
			note, err := tx.GetDocumentForUpdate(ctx, tenantID, noteID)
			if err != nil {
				return CancelNoteResult{}, err
			}
			if !note.Kind.IsNote() {
				return CancelNoteResult{}, shared.Invalid("%s is not a note", note.Number)
			}
			if note.Status != documents.StatusDraft && note.Status != documents.StatusIssued {
				return CancelNoteResult{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "only draft or issued notes can be cancelled", map[string]string{
					"document_id": note.ID.String(),
					"status":      string(note.Status),
				})
			}
			current, err := tx.ListNoteApplications(ctx, tenantID, noteID)
			if err != nil {
				return CancelNoteResult{}, err
			}
			open := outstanding(current)
			sort.SliceStable(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
			restored := map[uuid.UUID]documents.Document{}
			for _, app := range open {
				if !scope[app.InvoiceID] {
					// An application landed after the scope was read.
					return CancelNoteResult{}, fmt.Errorf("note %s gained an application: %w", noteID, shared.ErrConcurrencyConflict)
				}
				origin := app.ID
				comp := NoteApplication{
					ID:            uuid.New(),
					TenantID:      tenantID,
					NoteID:        noteID,
					InvoiceID:     app.InvoiceID,
					Amount:        app.Amount.Neg(),
					InvoiceAmount: app.InvoiceAmount.Neg(),
					Rate:          app.Rate,
					ReversalOf:    &origin,
					CreatedAt:     e.now(),
				}
				invoice, err := e.tracker.ReverseSettlement(ctx, tx, documents.SettlementInput{
					TenantID:   tenantID,
					DocumentID: app.InvoiceID,
					Amount:     app.InvoiceAmount,
					SourceType: documents.SourceReversal,
					SourceID:   comp.ID,
					Rate:       app.Rate,
				})
				if err != nil {
					return CancelNoteResult{}, err
				}
				if _, err := e.tracker.ReverseSettlement(ctx, tx, documents.SettlementInput{
					TenantID:   tenantID,
					DocumentID: noteID,
					Amount:     app.Amount,
					SourceType: documents.SourceReversal,
					SourceID:   comp.ID,
					Rate:       app.Rate,
				}); err != nil {
					return CancelNoteResult{}, err
				}
				if err := tx.InsertNoteApplication(ctx, comp); err != nil {
					return CancelNoteResult{}, err
				}
				restored[invoice.ID] = invoice
			}
			cancelled, err := e.tracker.Transition(ctx, tx, tenantID, noteID, documents.StatusCancelled)
			if err != nil {
				return CancelNoteResult{}, err
			}
			result := CancelNoteResult{Note: cancelled}
			for _, inv := range restored {
				result.Invoices = append(result.Invoices, inv)
			}
			sort.Slice(result.Invoices, func(i, j int) bool {
				return result.Invoices[i].ID.String() < result.Invoices[j].ID.String()
			})
			return result, nil
		},
	})
}
