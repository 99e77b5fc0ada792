// Package documents tracks invoices, orders, quotes and notes: their totals,
// how much of each has been settled and how far goods have moved.
package documents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// TxRepository exposes the document rows touched inside one unit of work.
type TxRepository interface {
	InsertDocument(ctx context.Context, d Document) error
	GetDocumentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Document, error)
	UpdateDocument(ctx context.Context, d Document) error
	InsertSettlementEntry(ctx context.Context, e SettlementEntry) error
}

// Tracker applies settlement and receipt changes to documents within a
// caller-owned transaction.
type Tracker struct {
	precisions money.Precisions
	now        func() time.Time
}

// NewTracker builds a Tracker.
func NewTracker(precisions money.Precisions) *Tracker {
	if precisions == nil {
		precisions = money.DefaultPrecisions()
	}
	return &Tracker{precisions: precisions, now: func() time.Time { return time.Now().UTC() }}
}

// Build validates input and returns the draft document it describes.
func (t *Tracker) Build(tenantID uuid.UUID, in CreateInput) (Document, error) {
	if !in.Kind.Valid() {
		return Document{}, shared.Invalid("document kind %q is not supported", in.Kind)
	}
	if !in.Currency.Valid() {
		return Document{}, shared.Invalid("currency %q is not supported", in.Currency)
	}
	docType, err := resolveType(in.Kind, in.Type)
	if err != nil {
		return Document{}, err
	}
	if in.Kind.IsNote() && strings.TrimSpace(in.Reason) == "" {
		return Document{}, shared.Invalid("%s requires a reason", in.Kind)
	}
	if in.Kind.IsOrder() && len(in.Lines) == 0 {
		return Document{}, shared.Invalid("%s requires at least one line", in.Kind)
	}
	if in.ExchangeRate != nil {
		if !in.ExchangeRate.IsPositive() {
			return Document{}, shared.Invalid("exchange rate must be positive")
		}
		if !in.ExchangeRate.Equal(in.ExchangeRate.Truncate(fx.RateScale)) {
			return Document{}, shared.Invalid("exchange rate allows at most %d decimal places", fx.RateScale)
		}
	}
	for _, v := range []decimal.Decimal{in.Discount, in.Tax} {
		if v.IsNegative() {
			return Document{}, shared.Invalid("discount and tax must not be negative")
		}
		if err := t.precisions.Validate(v, in.Currency); err != nil {
			return Document{}, err
		}
	}

	now := t.now()
	doc := Document{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Kind:         in.Kind,
		Type:         docType,
		Number:       strings.TrimSpace(in.Number),
		ContactID:    in.ContactID,
		InvoiceID:    in.InvoiceID,
		Date:         in.Date,
		DueDate:      in.DueDate,
		Status:       StatusDraft,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Discount:     in.Discount,
		Tax:          in.Tax,
		Settled:      decimal.Zero,
		Reason:       strings.TrimSpace(in.Reason),
		Notes:        strings.TrimSpace(in.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if doc.Date.IsZero() {
		doc.Date = now
	}
	if doc.Number == "" {
		doc.Number = generateNumber(in.Kind, doc.ID)
	}

	if len(in.Lines) == 0 {
		if in.Subtotal.IsNegative() {
			return Document{}, shared.Invalid("subtotal must not be negative")
		}
		if err := t.precisions.Validate(in.Subtotal, in.Currency); err != nil {
			return Document{}, err
		}
		doc.Subtotal = in.Subtotal
	} else {
		doc.Subtotal = decimal.Zero
		for i, li := range in.Lines {
			if !li.Quantity.IsPositive() {
				return Document{}, shared.Invalid("line %d quantity must be positive", i+1)
			}
			if li.UnitPrice.IsNegative() {
				return Document{}, shared.Invalid("line %d unit price must not be negative", i+1)
			}
			line := Line{
				ID:               uuid.New(),
				Position:         i + 1,
				ProductID:        li.ProductID,
				Description:      strings.TrimSpace(li.Description),
				Quantity:         li.Quantity,
				QuantityReceived: decimal.Zero,
				UnitPrice:        li.UnitPrice,
				Total:            t.precisions.Round(li.Quantity.Mul(li.UnitPrice), in.Currency),
			}
			doc.Subtotal = doc.Subtotal.Add(line.Total)
			doc.Lines = append(doc.Lines, line)
		}
	}
	doc.Total = doc.Subtotal.Sub(doc.Discount).Add(doc.Tax)
	if !doc.Total.IsPositive() {
		return Document{}, shared.Invalid("document total must be positive")
	}
	doc.Balance = doc.Total
	return doc, nil
}

func resolveType(kind Kind, requested Type) (Type, error) {
	var implied Type
	switch kind {
	case KindPurchaseOrder, KindDebitNote:
		implied = TypePurchase
	case KindSalesOrder, KindQuote, KindCreditNote:
		implied = TypeSale
	case KindInvoice:
		switch requested {
		case TypeSale, TypePurchase, TypeExpense:
			return requested, nil
		}
		return "", shared.Invalid("invoice type %q is not supported", requested)
	}
	if requested != "" && requested != implied {
		return "", shared.Invalid("%s is always a %s document", kind, implied)
	}
	return implied, nil
}

func generateNumber(kind Kind, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s", kind.numberPrefix(), strings.ToUpper(id.String()[:8]))
}

// RecordSettlement raises Settled by in.Amount, moves the status forward and
// writes the matching entry.
func (t *Tracker) RecordSettlement(ctx context.Context, tx TxRepository, in SettlementInput) (Document, error) {
	if !in.Amount.IsPositive() {
		return Document{}, shared.Invalid("settlement amount must be positive")
	}
	doc, err := tx.GetDocumentForUpdate(ctx, in.TenantID, in.DocumentID)
	if err != nil {
		return Document{}, err
	}
	if !doc.settleable() {
		return Document{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "document does not accept settlements", map[string]string{
			"document_id": doc.ID.String(),
			"kind":        string(doc.Kind),
			"status":      string(doc.Status),
		})
	}
	if err := t.precisions.Validate(in.Amount, doc.Currency); err != nil {
		return Document{}, err
	}
	settled := doc.Settled.Add(in.Amount)
	if settled.GreaterThan(doc.Total) {
		return Document{}, shared.NewRuleError(shared.ErrOverSettlement, "amount exceeds the remaining balance", map[string]string{
			"document_id": doc.ID.String(),
			"remaining":   t.precisions.Format(doc.Balance, doc.Currency),
			"requested":   t.precisions.Format(in.Amount, doc.Currency),
			"currency":    string(doc.Currency),
		})
	}
	doc.Settled = settled
	doc.Balance = doc.Total.Sub(settled)
	next := doc.settledStatus()
	if next != doc.Status && !CanTransition(doc.Kind, doc.Status, next) {
		return Document{}, transitionError(doc, next)
	}
	doc.Status = next
	return t.writeSettlement(ctx, tx, doc, in, in.Amount)
}

// ReverseSettlement lowers Settled by in.Amount and steps the status back.
// The entry is recorded with a negative amount.
func (t *Tracker) ReverseSettlement(ctx context.Context, tx TxRepository, in SettlementInput) (Document, error) {
	if !in.Amount.IsPositive() {
		return Document{}, shared.Invalid("reversal amount must be positive")
	}
	doc, err := tx.GetDocumentForUpdate(ctx, in.TenantID, in.DocumentID)
	if err != nil {
		return Document{}, err
	}
	if doc.Kind != KindInvoice && !doc.Kind.IsNote() {
		return Document{}, shared.Invalid("%s carries no settlements", doc.Kind)
	}
	if doc.Status == StatusCancelled {
		return Document{}, transitionError(doc, doc.Status)
	}
	if in.Amount.GreaterThan(doc.Settled) {
		return Document{}, shared.NewRuleError(shared.ErrValidation, "reversal exceeds the settled amount", map[string]string{
			"document_id": doc.ID.String(),
			"settled":     t.precisions.Format(doc.Settled, doc.Currency),
			"requested":   t.precisions.Format(in.Amount, doc.Currency),
		})
	}
	doc.Settled = doc.Settled.Sub(in.Amount)
	doc.Balance = doc.Total.Sub(doc.Settled)
	next := doc.settledStatus()
	if next != doc.Status && !canReverse(doc.Kind, doc.Status, next) {
		return Document{}, transitionError(doc, next)
	}
	doc.Status = next
	return t.writeSettlement(ctx, tx, doc, in, in.Amount.Neg())
}

func (t *Tracker) writeSettlement(ctx context.Context, tx TxRepository, doc Document, in SettlementInput, signed decimal.Decimal) (Document, error) {
	now := t.now()
	doc.UpdatedAt = now
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return Document{}, err
	}
	entry := SettlementEntry{
		ID:         uuid.New(),
		TenantID:   doc.TenantID,
		DocumentID: doc.ID,
		SourceType: in.SourceType,
		SourceID:   in.SourceID,
		Amount:     signed,
		Currency:   doc.Currency,
		Rate:       in.Rate,
		CreatedAt:  now,
	}
	if err := tx.InsertSettlementEntry(ctx, entry); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Receive adds received (purchase order) or delivered (sales order)
// quantities. No line may go above its ordered quantity.
func (t *Tracker) Receive(ctx context.Context, tx TxRepository, tenantID, id uuid.UUID, deliveries []LineDelivery) (Document, error) {
	if len(deliveries) == 0 {
		return Document{}, shared.Invalid("at least one line quantity required")
	}
	doc, err := tx.GetDocumentForUpdate(ctx, tenantID, id)
	if err != nil {
		return Document{}, err
	}
	if !doc.Kind.IsOrder() {
		return Document{}, shared.Invalid("%s does not track quantities", doc.Kind)
	}
	if doc.Status == StatusDraft || doc.Status == StatusCancelled || doc.ConvertedInvoiceID != nil {
		target := StatusReceived
		if doc.Kind == KindSalesOrder {
			target = StatusDelivered
		}
		return Document{}, transitionError(doc, target)
	}

	requested := make(map[uuid.UUID]decimal.Decimal, len(deliveries))
	for _, d := range deliveries {
		if !d.Quantity.IsPositive() {
			return Document{}, shared.Invalid("quantity for line %s must be positive", d.LineID)
		}
		requested[d.LineID] = requested[d.LineID].Add(d.Quantity)
	}
	index := make(map[uuid.UUID]int, len(doc.Lines))
	for i, line := range doc.Lines {
		index[line.ID] = i
	}
	for lineID, qty := range requested {
		i, ok := index[lineID]
		if !ok {
			return Document{}, shared.Invalid("line %s does not belong to document %s", lineID, doc.ID)
		}
		line := doc.Lines[i]
		if line.QuantityReceived.Add(qty).GreaterThan(line.Quantity) {
			return Document{}, shared.NewRuleError(shared.ErrOverReceipt, "quantity exceeds the ordered amount", map[string]string{
				"document_id": doc.ID.String(),
				"line_id":     lineID.String(),
				"ordered":     line.Quantity.String(),
				"received":    line.QuantityReceived.String(),
				"requested":   qty.String(),
			})
		}
		doc.Lines[i].QuantityReceived = line.QuantityReceived.Add(qty)
	}
	next := doc.receiptStatus()
	if next != doc.Status {
		if !CanTransition(doc.Kind, doc.Status, next) {
			return Document{}, transitionError(doc, next)
		}
		doc.Status = next
	}
	doc.UpdatedAt = t.now()
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Transition performs a user requested status change.
func (t *Tracker) Transition(ctx context.Context, tx TxRepository, tenantID, id uuid.UUID, to Status) (Document, error) {
	doc, err := tx.GetDocumentForUpdate(ctx, tenantID, id)
	if err != nil {
		return Document{}, err
	}
	if !doc.Kind.HasStatus(to) {
		return Document{}, shared.Invalid("status %q does not apply to %s", to, doc.Kind)
	}
	if to == StatusCancelled {
		if doc.Settled.IsPositive() {
			return Document{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "reverse settlements before cancelling", map[string]string{
				"document_id": doc.ID.String(),
				"settled":     t.precisions.Format(doc.Settled, doc.Currency),
			})
		}
		if doc.anyReceived() {
			return Document{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "goods already moved on this order", map[string]string{
				"document_id": doc.ID.String(),
			})
		}
	}
	if !contains(manual[doc.Kind], to) || !CanTransition(doc.Kind, doc.Status, to) {
		return Document{}, transitionError(doc, to)
	}
	doc.Status = to
	doc.UpdatedAt = t.now()
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ConvertToInvoice creates a pending invoice from an order's received or
// delivered quantities, or from an accepted quote, and links the source to
// it. Discount and tax are prorated on partial conversions.
func (t *Tracker) ConvertToInvoice(ctx context.Context, tx TxRepository, tenantID, sourceID uuid.UUID, opts ConvertOptions) (Document, Document, error) {
	source, err := tx.GetDocumentForUpdate(ctx, tenantID, sourceID)
	if err != nil {
		return Document{}, Document{}, err
	}
	if source.ConvertedInvoiceID != nil || !convertible(source) {
		return Document{}, Document{}, shared.NewRuleError(shared.ErrInvalidStatusTransition, "document cannot be converted", map[string]string{
			"document_id": source.ID.String(),
			"kind":        string(source.Kind),
			"status":      string(source.Status),
		})
	}

	now := t.now()
	invoice := Document{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Kind:         KindInvoice,
		Type:         TypeSale,
		ContactID:    source.ContactID,
		Date:         now,
		DueDate:      opts.DueDate,
		Status:       StatusPending,
		Currency:     source.Currency,
		ExchangeRate: source.ExchangeRate,
		Subtotal:     decimal.Zero,
		Settled:      decimal.Zero,
		Notes:        source.Notes,
		SourceKind:   source.Kind,
		SourceID:     &source.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if source.Kind == KindPurchaseOrder {
		invoice.Type = TypePurchase
	}
	invoice.Number = strings.TrimSpace(opts.Number)
	if invoice.Number == "" {
		invoice.Number = generateNumber(KindInvoice, invoice.ID)
	}
	for _, line := range source.Lines {
		qty := line.Quantity
		if source.Kind.IsOrder() {
			qty = line.QuantityReceived
		}
		if !qty.IsPositive() {
			continue
		}
		total := t.precisions.Round(qty.Mul(line.UnitPrice), source.Currency)
		invoice.Lines = append(invoice.Lines, Line{
			ID:               uuid.New(),
			Position:         len(invoice.Lines) + 1,
			ProductID:        line.ProductID,
			Description:      line.Description,
			Quantity:         qty,
			QuantityReceived: decimal.Zero,
			UnitPrice:        line.UnitPrice,
			Total:            total,
		})
		invoice.Subtotal = invoice.Subtotal.Add(total)
	}
	if len(invoice.Lines) == 0 {
		invoice.Subtotal = source.Subtotal
	}
	invoice.Discount = t.prorate(source.Discount, invoice.Subtotal, source.Subtotal, source.Currency)
	invoice.Tax = t.prorate(source.Tax, invoice.Subtotal, source.Subtotal, source.Currency)
	invoice.Total = invoice.Subtotal.Sub(invoice.Discount).Add(invoice.Tax)
	if !invoice.Total.IsPositive() {
		return Document{}, Document{}, shared.Invalid("nothing to invoice on %s", source.Number)
	}
	invoice.Balance = invoice.Total
	if err := tx.InsertDocument(ctx, invoice); err != nil {
		return Document{}, Document{}, err
	}

	source.ConvertedInvoiceID = &invoice.ID
	if source.Kind == KindQuote {
		source.Status = StatusConverted
	}
	source.UpdatedAt = now
	if err := tx.UpdateDocument(ctx, source); err != nil {
		return Document{}, Document{}, err
	}
	return invoice, source, nil
}

func convertible(d Document) bool {
	switch d.Kind {
	case KindPurchaseOrder:
		return d.Status == StatusPartial || d.Status == StatusReceived
	case KindSalesOrder:
		return d.Status == StatusPartial || d.Status == StatusDelivered
	case KindQuote:
		return d.Status == StatusAccepted
	}
	return false
}

func (t *Tracker) prorate(amount, part, whole decimal.Decimal, c money.Currency) decimal.Decimal {
	if amount.IsZero() || whole.IsZero() {
		return decimal.Zero
	}
	if part.Equal(whole) {
		return amount
	}
	return t.precisions.Round(amount.Mul(part).DivRound(whole, 16), c)
}
