// Package money defines the currencies the ledger books in and the one
// rounding rule every amount passes through.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/abooddev/accounting-saas/internal/shared"
)

// Currency is a supported ISO 4217 code.
type Currency string

const (
	USD Currency = "USD"
	LBP Currency = "LBP"
)

// Supported lists the currencies accounts and documents may carry.
func Supported() []Currency {
	return []Currency{USD, LBP}
}

// ParseCurrency validates an ISO code and checks it is supported.
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", shared.Invalid("currency %q is not an ISO 4217 code", code)
	}
	c := Currency(unit.String())
	if !c.Valid() {
		return "", shared.Invalid("currency %s is not supported", c)
	}
	return c, nil
}

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case USD, LBP:
		return true
	}
	return false
}

func (c Currency) String() string {
	return string(c)
}

// Precisions maps a currency to its minimum unit expressed as decimal places.
type Precisions map[Currency]int32

// DefaultPrecisions takes the CLDR standard scale of every supported currency
// (USD 2, LBP 0).
func DefaultPrecisions() Precisions {
	p := make(Precisions, len(Supported()))
	for _, c := range Supported() {
		scale, _ := currency.Standard.Rounding(currency.MustParseISO(string(c)))
		p[c] = int32(scale)
	}
	return p
}

// With returns a copy of p with the scale of c overridden.
func (p Precisions) With(c Currency, scale int32) Precisions {
	out := make(Precisions, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[c] = scale
	return out
}

// Scale returns the number of decimal places kept for c.
func (p Precisions) Scale(c Currency) int32 {
	if scale, ok := p[c]; ok {
		return scale
	}
	return 2
}

// Round rounds amount to the minimum unit of c with round-half-to-even.
// Every conversion and every derived total goes through here.
func (p Precisions) Round(amount decimal.Decimal, c Currency) decimal.Decimal {
	return amount.RoundBank(p.Scale(c))
}

// Validate rejects amounts finer than the minimum unit of c.
func (p Precisions) Validate(amount decimal.Decimal, c Currency) error {
	scale := p.Scale(c)
	if !amount.Truncate(scale).Equal(amount) {
		return shared.NewRuleError(shared.ErrValidation, fmt.Sprintf("amount has more than %d decimal places for %s", scale, c), map[string]string{
			"amount":   amount.String(),
			"currency": string(c),
		})
	}
	return nil
}

// Format renders amount at the scale of c.
func (p Precisions) Format(amount decimal.Decimal, c Currency) string {
	return p.Round(amount, c).StringFixed(p.Scale(c))
}
