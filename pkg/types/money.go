package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantity is a count of units on a line item; LineItem's validate tag keeps it positive
type Quantity int

// ParseAmount parses an exact decimal amount such as "3.00".
// Negative amounts are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q is not a decimal", ErrInvalidInput, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: amount must be >= 0, got %s", ErrInvalidInput, s)
	}
	return d, nil
}

// LineTotal returns quantity * unitPrice without rounding
func LineTotal(qty Quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

// MinorUnits converts an amount to the smallest currency unit (cents), rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
