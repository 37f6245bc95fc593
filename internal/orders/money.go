package orders

import "github.com/shopspring/decimal"

// FromCents converts an integer amount of minor units into a decimal.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ToCents rounds d to two places (half away from zero) and returns it in
// minor units.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}
