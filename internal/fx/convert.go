// Package fx converts amounts between the supported currencies and keeps
// the tenant's exchange-rate table.
package fx

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/abooddev/accounting-saas/internal/money"
	"github.com/abooddev/accounting-saas/internal/shared"
)

const divisionPrecision = 16

// RateScale is the number of decimal places a stored rate keeps.
const RateScale = 8

// Rate states that one unit of Base is worth Value units of Quote.
type Rate struct {
	Base  money.Currency  `json:"base"`
	Quote money.Currency  `json:"quote"`
	Value decimal.Decimal `json:"value"`
}

// Validate checks the pair and the value.
func (r Rate) Validate() error {
	if !r.Base.Valid() || !r.Quote.Valid() {
		return shared.Invalid("rate pair %s/%s is not supported", r.Base, r.Quote)
	}
	if r.Base == r.Quote {
		return shared.Invalid("rate pair must name two currencies")
	}
	if !r.Value.IsPositive() {
		return shared.Invalid("rate must be positive")
	}
	if !r.Value.Equal(r.Value.Truncate(RateScale)) {
		return shared.NewRuleError(shared.ErrValidation, "rate has more decimal places than can be stored", map[string]string{
			"rate":      r.Value.String(),
			"max_scale": fmt.Sprint(RateScale),
		})
	}
	return nil
}

// Covers reports whether the rate converts between a and b in either direction.
func (r Rate) Covers(a, b money.Currency) bool {
	return (r.Base == a && r.Quote == b) || (r.Base == b && r.Quote == a)
}

func (r Rate) String() string {
	return fmt.Sprintf("1 %s = %s %s", r.Base, r.Value.String(), r.Quote)
}

// Converter is the single conversion path of the ledger.
type Converter struct {
	precisions money.Precisions
}

// NewConverter builds a converter rounding with the given precisions.
func NewConverter(precisions money.Precisions) Converter {
	if precisions == nil {
		precisions = money.DefaultPrecisions()
	}
	return Converter{precisions: precisions}
}

// Precisions exposes the rounding table in use.
func (c Converter) Precisions() money.Precisions {
	return c.precisions
}

// Convert turns amount in from into the equivalent in to using rate and
// rounds the result to the minimum unit of to. Same-currency conversions
// ignore the rate.
func (c Converter) Convert(amount decimal.Decimal, from, to money.Currency, rate *Rate) (decimal.Decimal, error) {
	if from == to {
		return c.precisions.Round(amount, to), nil
	}
	if rate == nil || !rate.Covers(from, to) {
		return decimal.Zero, shared.NewRuleError(shared.ErrUnsupportedCurrencyPair, "no rate for pair", map[string]string{
			"from": string(from),
			"to":   string(to),
		})
	}
	if err := rate.Validate(); err != nil {
		return decimal.Zero, err
	}
	var raw decimal.Decimal
	if rate.Base == from {
		raw = amount.Mul(rate.Value)
	} else {
		raw = amount.DivRound(rate.Value, divisionPrecision)
	}
	return c.precisions.Round(raw, to), nil
}
