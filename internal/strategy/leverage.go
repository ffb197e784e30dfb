package strategy

import "github.com/shopspring/decimal"

// WithinBand reports whether realized leverage sits inside the closed
// interval [target-buffer, target+buffer]. A non-positive account value has
// no definable leverage and fails the check immediately.
func WithinBand(price, accountValue, positionSize, target, buffer decimal.Decimal) bool {
	if !accountValue.IsPositive() {
		return false
	}
	leverage := positionSize.Abs().Mul(price).Div(accountValue)
	return leverage.GreaterThanOrEqual(target.Sub(buffer)) &&
		leverage.LessThanOrEqual(target.Add(buffer))
}
