package documents

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Kind enumerates settleable document kinds.
type Kind string

const (
	KindInvoice       Kind = "invoice"
	KindPurchaseOrder Kind = "purchase_order"
	KindSalesOrder    Kind = "sales_order"
	KindQuote         Kind = "quote"
	KindCreditNote    Kind = "credit_note"
	KindDebitNote     Kind = "debit_note"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := statusSets[k]
	return ok
}

// IsNote reports whether k is a credit or debit note.
func (k Kind) IsNote() bool {
	return k == KindCreditNote || k == KindDebitNote
}

// IsOrder reports whether k is a purchase or sales order.
func (k Kind) IsOrder() bool {
	return k == KindPurchaseOrder || k == KindSalesOrder
}

func (k Kind) numberPrefix() string {
	switch k {
	case KindInvoice:
		return "INV"
	case KindPurchaseOrder:
		return "PO"
	case KindSalesOrder:
		return "SO"
	case KindQuote:
		return "QT"
	case KindCreditNote:
		return "CN"
	case KindDebitNote:
		return "DN"
	}
	return "DOC"
}

// Type tells which side of the business an invoice-like document sits on.
type Type string

const (
	TypeSale     Type = "sale"
	TypePurchase Type = "purchase"
	TypeExpense  Type = "expense"
)

// Status is a document status; the allowed set depends on the kind.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusSent      Status = "sent"
	StatusReceived  Status = "received"
	StatusConfirmed Status = "confirmed"
	StatusDelivered Status = "delivered"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusConverted Status = "converted"
	StatusIssued    Status = "issued"
	StatusApplied   Status = "applied"
)

// Document is any of invoice, order, quote or note. For notes Settled is the
// applied amount.
type Document struct {
	ID                 uuid.UUID        `json:"id"`
	TenantID           uuid.UUID        `json:"tenant_id"`
	Kind               Kind             `json:"kind"`
	Type               Type             `json:"type"`
	Number             string           `json:"number"`
	ContactID          *uuid.UUID       `json:"contact_id,omitempty"`
	InvoiceID          *uuid.UUID       `json:"invoice_id,omitempty"`
	Date               time.Time        `json:"date"`
	DueDate            *time.Time       `json:"due_date,omitempty"`
	Status             Status           `json:"status"`
	Currency           money.Currency   `json:"currency"`
	ExchangeRate       *decimal.Decimal `json:"exchange_rate,omitempty"`
	Subtotal           decimal.Decimal  `json:"subtotal"`
	Discount           decimal.Decimal  `json:"discount"`
	Tax                decimal.Decimal  `json:"tax"`
	Total              decimal.Decimal  `json:"total"`
	Settled            decimal.Decimal  `json:"settled"`
	Balance            decimal.Decimal  `json:"balance"`
	Reason             string           `json:"reason,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	SourceKind         Kind             `json:"source_kind,omitempty"`
	SourceID           *uuid.UUID       `json:"source_id,omitempty"`
	ConvertedInvoiceID *uuid.UUID       `json:"converted_invoice_id,omitempty"`
	Lines              []Line           `json:"lines"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Lines = append([]Line(nil), d.Lines...)
	return out
}

// Line is a document line. QuantityReceived is the received quantity on
// purchase orders and the delivered quantity on sales orders.
type Line struct {
	ID               uuid.UUID       `json:"id"`
	Position         int             `json:"position"`
	ProductID        *uuid.UUID      `json:"product_id,omitempty"`
	Description      string          `json:"description"`
	Quantity         decimal.Decimal `json:"quantity"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Total            decimal.Decimal `json:"total"`
}

// SourceType tells what produced a settlement entry.
type SourceType string

const (
	SourcePayment     SourceType = "payment"
	SourceCreditNote  SourceType = "credit_note"
	SourceDebitNote   SourceType = "debit_note"
	SourceApplication SourceType = "application"
	SourceReversal    SourceType = "reversal"
)

// SettlementEntry is the ledger fact behind every change of Settled.
// Reversals carry negative amounts.
type SettlementEntry struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	DocumentID uuid.UUID       `json:"document_id"`
	SourceType SourceType      `json:"source_type"`
	SourceID   uuid.UUID       `json:"source_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   money.Currency  `json:"currency"`
	Rate       *fx.Rate        `json:"rate,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SettlementInput asks the tracker to move Settled by Amount.
type SettlementInput struct {
	TenantID   uuid.UUID
	DocumentID uuid.UUID
	Amount     decimal.Decimal
	SourceType SourceType
	SourceID   uuid.UUID
	Rate       *fx.Rate
}

// LineDelivery is a received or delivered quantity for one order line.
type LineDelivery struct {
	LineID   uuid.UUID       `json:"line_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

// LineInput describes a line of a new document.
type LineInput struct {
	ProductID   *uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// CreateInput captures a new document in draft.
type CreateInput struct {
	Kind         Kind
	Type         Type
	Number       string
	ContactID    *uuid.UUID
	InvoiceID    *uuid.UUID
	Date         time.Time
	DueDate      *time.Time
	Currency     money.Currency
	ExchangeRate *decimal.Decimal
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Tax          decimal.Decimal
	Lines        []LineInput
	Reason       string
	Notes        string
}

// ListFilter narrows document listings.
type ListFilter struct {
	Kind      Kind
	Type      Type
	Status    Status
	ContactID *uuid.UUID
	Page      shared.Page
}

// Snapshot is the reconciliation view of a document.
type Snapshot struct {
	TenantID   uuid.UUID
	DocumentID uuid.UUID
	Kind       Kind
	Status     Status
	Total      decimal.Decimal
	Settled    decimal.Decimal
	Balance    decimal.Decimal
	EntrySum   decimal.Decimal
}

// Violation is a broken document invariant found by reconciliation.
type Violation struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Kind       Kind      `json:"kind"`
	Rule       string    `json:"rule"`
	Detail     string    `json:"detail"`
}

// ConvertOptions overrides the defaults of an invoice created by conversion.
type ConvertOptions struct {
	Number  string
	DueDate *time.Time
}
