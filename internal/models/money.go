package models

import (
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// MinorUnitExp is the number of fractional digits kept for amounts.
const MinorUnitExp = 2

// ParseAmount converts a decimal amount into minor units. Amounts with more
// fractional digits than MinorUnitExp are rejected rather than rounded.
func ParseAmount(d decimal.Decimal) (int64, error) {
	scaled := d.Shift(MinorUnitExp)
	if !scaled.IsInteger() {
		return 0, xerrors.Invalid("amount", "has more than 2 decimal places")
	}
	if !scaled.BigInt().IsInt64() {
		return 0, xerrors.Invalid("amount", "out of range")
	}
	return scaled.IntPart(), nil
}

// FormatAmount converts minor units back to a decimal.
func FormatAmount(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitExp)
}
