package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/documents"
	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/ledger"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// PaymentKind tells who is paid or who pays.
type PaymentKind string

const (
	PaymentSupplier PaymentKind = "supplier_payment"
	PaymentExpense  PaymentKind = "expense_payment"
	PaymentCustomer PaymentKind = "customer_receipt"
)

// Valid reports whether k is a known payment kind.
func (k PaymentKind) Valid() bool {
	switch k {
	case PaymentSupplier, PaymentExpense, PaymentCustomer:
		return true
	}
	return false
}

func (k PaymentKind) movementKind() ledger.Kind {
	if k == PaymentCustomer {
		return ledger.KindPaymentIn
	}
	return ledger.KindPaymentOut
}

// invoiceType is the invoice side a payment kind may settle.
func (k PaymentKind) invoiceType() documents.Type {
	switch k {
	case PaymentCustomer:
		return documents.TypeSale
	case PaymentSupplier:
		return documents.TypePurchase
	}
	return documents.TypeExpense
}

// Method is how money changed hands.
type Method string

const (
	MethodCash   Method = "cash"
	MethodBank   Method = "bank_transfer"
	MethodCheque Method = "cheque"
	MethodCard   Method = "card"
	MethodWhish  Method = "whish"
	MethodOMT    Method = "omt"
	MethodOther  Method = "other"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodBank, MethodCheque, MethodCard, MethodWhish, MethodOMT, MethodOther:
		return true
	}
	return false
}

// PaymentStatus tracks whether a payment still stands.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentReversed  PaymentStatus = "reversed"
)

// Payment links one account movement to at most one invoice settlement.
// Amount is in the payment currency; AccountAmount and DocumentAmount are
// the converted amounts actually posted.
type Payment struct {
	ID                 uuid.UUID       `json:"id"`
	TenantID           uuid.UUID       `json:"tenant_id"`
	Kind               PaymentKind     `json:"kind"`
	AccountID          uuid.UUID       `json:"account_id"`
	DocumentID         *uuid.UUID      `json:"document_id,omitempty"`
	ContactID          *uuid.UUID      `json:"contact_id,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           money.Currency  `json:"currency"`
	AccountAmount      decimal.Decimal `json:"account_amount"`
	DocumentAmount     decimal.Decimal `json:"document_amount"`
	Rate               *fx.Rate        `json:"rate,omitempty"`
	Method             Method          `json:"method"`
	Reference          string          `json:"reference,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Date               time.Time       `json:"date"`
	MovementID         uuid.UUID       `json:"movement_id"`
	Status             PaymentStatus   `json:"status"`
	ReversalMovementID *uuid.UUID      `json:"reversal_movement_id,omitempty"`
	ReversalReason     string          `json:"reversal_reason,omitempty"`
	ReversedAt         *time.Time      `json:"reversed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// NoteApplication records how much of a note went to which invoice.
// Amount is in the note currency, InvoiceAmount in the invoice currency.
// Compensating rows carry negative amounts and ReversalOf.
type NoteApplication struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	NoteID        uuid.UUID       `json:"note_id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	InvoiceAmount decimal.Decimal `json:"invoice_amount"`
	Rate          *fx.Rate        `json:"rate,omitempty"`
	ReversalOf    *uuid.UUID      `json:"reversal_of,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PaymentInput records a payment.
type PaymentInput struct {
	Kind           PaymentKind
	AccountID      uuid.UUID
	DocumentID     *uuid.UUID
	ContactID      *uuid.UUID
	Amount         decimal.Decimal
	Currency       money.Currency
	Rate           *fx.Rate
	Method         Method
	Reference      string
	Notes          string
	Date           time.Time
	IdempotencyKey string
}

// ReversePaymentInput undoes a payment.
type ReversePaymentInput struct {
	PaymentID      uuid.UUID
	Reason         string
	Date           time.Time
	IdempotencyKey string
}

// TransferInput moves money between two accounts. Amount is in the source
// account currency.
type TransferInput struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	Rate           *fx.Rate
	Date           time.Time
	Notes          string
	IdempotencyKey string
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out ledger.Movement `json:"out"`
	In  ledger.Movement `json:"in"`
}

// Direction is the sign of an adjustment.
type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
)

// AdjustInput corrects an account balance directly.
type AdjustInput struct {
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	Direction      Direction
	Reason         string
	Date           time.Time
	IdempotencyKey string
}

// ApplyNoteInput applies part of a note to an invoice. Amount is in the
// note currency.
type ApplyNoteInput struct {
	NoteID         uuid.UUID
	InvoiceID      uuid.UUID
	Amount         decimal.Decimal
	Rate           *fx.Rate
	IdempotencyKey string
}

// ApplyNoteResult is the state after an application.
type ApplyNoteResult struct {
	Note        documents.Document `json:"note"`
	Invoice     documents.Document `json:"invoice"`
	Application NoteApplication    `json:"application"`
}

// CancelNoteResult is the cancelled note with the invoices it gave back.
type CancelNoteResult struct {
	Note     documents.Document   `json:"note"`
	Invoices []documents.Document `json:"invoices"`
}

// ConvertOptions tunes the invoice created by ConvertToInvoice.
type ConvertOptions struct {
	Number         string
	DueDate        *time.Time
	IdempotencyKey string
}

// ConvertResult is the new invoice and its linked source.
type ConvertResult struct {
	Invoice documents.Document `json:"invoice"`
	Source  documents.Document `json:"source"`
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	AccountID  *uuid.UUID
	DocumentID *uuid.UUID
	Kind       PaymentKind
	Page       shared.Page
}
