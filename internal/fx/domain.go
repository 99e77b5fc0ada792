package fx

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/money"
)

// ExchangeRate is a stored rate for one currency pair.
type ExchangeRate struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Base          money.Currency  `json:"base"`
	Quote         money.Currency  `json:"quote"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate time.Time       `json:"effective_date"`
	Source        string          `json:"source"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AsRate returns the conversion view of the stored rate.
func (e ExchangeRate) AsRate() Rate {
	return Rate{Base: e.Base, Quote: e.Quote, Value: e.Rate}
}

// SetRateInput captures a new rate for a pair.
type SetRateInput struct {
	Base          money.Currency
	Quote         money.Currency
	Rate          decimal.Decimal
	EffectiveDate time.Time
	Source        string
}

// ListFilter narrows rate listings.
type ListFilter struct {
	Base       money.Currency
	Quote      money.Currency
	ActiveOnly bool
	Limit      int
}
