package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string amount in major units ("99.00") to a
// decimal. Empty or malformed input yields zero.
// Examples: "99.00" → 99, "1,234.5" → 1234.5, "" → 0
func ParseAmount(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Round2 rounds half away from zero to two decimal places, the precision of
// every displayed and persisted amount.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PercentOf returns amount × pct / 100 rounded to two places.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(decimal.NewFromInt(100)))
}

// MinorUnits converts a major-unit amount to minor units (paise, cents).
// Used by the payment gateway, which expects integer amounts.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FormatAmount renders an amount with exactly two decimals ("286.00").
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
