package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/fx"
	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

// Kind enumerates movement kinds.
type Kind string

const (
	KindInitial     Kind = "initial"
	KindPaymentIn   Kind = "payment_in"
	KindPaymentOut  Kind = "payment_out"
	KindTransferIn  Kind = "transfer_in"
	KindTransferOut Kind = "transfer_out"
	KindAdjustment  Kind = "adjustment"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInitial, KindPaymentIn, KindPaymentOut, KindTransferIn, KindTransferOut, KindAdjustment:
		return true
	}
	return false
}

// checkSign enforces the direction each kind implies.
func (k Kind) checkSign(amount decimal.Decimal) error {
	switch k {
	case KindInitial:
		return nil
	case KindPaymentIn, KindTransferIn:
		if !amount.IsPositive() {
			return shared.Invalid("%s movement must be positive", k)
		}
	case KindPaymentOut, KindTransferOut:
		if !amount.IsNegative() {
			return shared.Invalid("%s movement must be negative", k)
		}
	case KindAdjustment:
		if amount.IsZero() {
			return shared.Invalid("adjustment must not be zero")
		}
	default:
		return shared.Invalid("movement kind %q is not supported", k)
	}
	return nil
}

// opposite returns the kind that undoes k.
func (k Kind) opposite() (Kind, bool) {
	switch k {
	case KindPaymentIn:
		return KindPaymentOut, true
	case KindPaymentOut:
		return KindPaymentIn, true
	case KindAdjustment:
		return KindAdjustment, true
	}
	return "", false
}

// Movement is an immutable balance change on one account.
type Movement struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Kind          Kind            `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Currency      money.Currency  `json:"currency"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID      `json:"reference_id,omitempty"`
	CounterpartID *uuid.UUID      `json:"counterpart_id,omitempty"`
	Rate          *fx.Rate        `json:"rate,omitempty"`
	ReversalOf    *uuid.UUID      `json:"reversal_of,omitempty"`
	Description   string          `json:"description,omitempty"`
	Date          time.Time       `json:"date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Reference types stamped on movements.
const (
	RefAccount    = "account"
	RefPayment    = "payment"
	RefTransfer   = "transfer"
	RefAdjustment = "adjustment"
)

// AppendInput describes one movement to post.
type AppendInput struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	AccountID     uuid.UUID
	Kind          Kind
	Amount        decimal.Decimal
	ReferenceType string
	ReferenceID   *uuid.UUID
	CounterpartID *uuid.UUID
	Rate          *fx.Rate
	ReversalOf    *uuid.UUID
	Description   string
	Date          time.Time
}

// TransferInput moves Amount (in the source currency) between two accounts.
type TransferInput struct {
	TenantID      uuid.UUID
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Rate          *fx.Rate
	ReferenceID   *uuid.UUID
	Notes         string
	Date          time.Time
}

// ReverseInput describes a compensating movement.
type ReverseInput struct {
	TenantID      uuid.UUID
	MovementID    uuid.UUID
	ReferenceType string
	ReferenceID   *uuid.UUID
	Description   string
	Date          time.Time
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	Kind Kind
	From time.Time
	To   time.Time
	Page shared.Page
}

// BalanceSnapshot pairs the stored balance with the sum of its movements.
type BalanceSnapshot struct {
	TenantID  uuid.UUID
	AccountID uuid.UUID
	Currency  money.Currency
	Stored    decimal.Decimal
	Computed  decimal.Decimal
}

// Drift is a reconciliation finding.
type Drift struct {
	TenantID   uuid.UUID       `json:"tenant_id"`
	AccountID  uuid.UUID       `json:"account_id"`
	Currency   money.Currency  `json:"currency"`
	Stored     decimal.Decimal `json:"stored"`
	Computed   decimal.Decimal `json:"computed"`
	Difference decimal.Decimal `json:"difference"`
}
