package calculator

import "github.com/shopspring/decimal"

// Profit returns amount * percent / 100 rounded to cents, half away from zero.
// The product is computed exactly before the single rounding step.
func Profit(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Shift(-2).Round(2)
}

// ReturnRate returns profit / base as a fraction with 4 decimals.
// ok is false when base is zero and the rate is undefined.
func ReturnRate(profit, base decimal.Decimal) (rate decimal.Decimal, ok bool) {
	if base.IsZero() {
		return decimal.Zero, false
	}
	return profit.DivRound(base, 4), true
}
