package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/money"
)

// Kind distinguishes cash drawers from bank accounts.
type Kind string

const (
	KindCash Kind = "cash"
	KindBank Kind = "bank"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindCash || k == KindBank
}

// Account is a money account holding a balance in one currency.
type Account struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Name           string          `json:"name"`
	NameAr         string          `json:"name_ar,omitempty"`
	Kind           Kind            `json:"kind"`
	Currency       money.Currency  `json:"currency"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IsDefault      bool            `json:"is_default"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
}

// Deleted reports whether the account was soft deleted.
func (a Account) Deleted() bool {
	return a.DeletedAt != nil
}

// Usable reports whether movements may be posted to the account.
func (a Account) Usable() bool {
	return a.IsActive && !a.Deleted()
}

// Policy holds the negative-balance allowance per account kind.
type Policy struct {
	CashAllowsNegative bool
	BankAllowsNegative bool
}

// DefaultPolicy forbids overdrawing cash and tolerates bank overdrafts.
func DefaultPolicy() Policy {
	return Policy{CashAllowsNegative: false, BankAllowsNegative: true}
}

// AllowsNegative reports whether accounts of kind k may go below zero.
func (p Policy) AllowsNegative(k Kind) bool {
	switch k {
	case KindCash:
		return p.CashAllowsNegative
	case KindBank:
		return p.BankAllowsNegative
	}
	return false
}

// CreateAccountInput captures a new account.
type CreateAccountInput struct {
	Name           string
	NameAr         string
	Kind           Kind
	Currency       money.Currency
	OpeningBalance decimal.Decimal
	OpeningDate    time.Time
	IsDefault      bool
}

// ListFilter narrows account listings.
type ListFilter struct {
	Kind            Kind
	Currency        money.Currency
	IncludeInactive bool
	IncludeDeleted  bool
}
