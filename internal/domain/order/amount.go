package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a major-unit decimal amount (e.g. 49.99) to integer
// minor currency units (4999). This is the only place the conversion happens
// on the outbound side; the provider exchanges integers exclusively.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts integer minor units back to a major-unit decimal.
// Used only when formatting provider amounts for audit-note text; stored
// state comparisons never go through it.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred)
}

// FormatAmount renders a minor-unit amount as display text, e.g. "49.99 USD".
func FormatAmount(minor int64, currency string) string {
	return FromMinorUnits(minor).StringFixed(2) + " " + strings.ToUpper(currency)
}
