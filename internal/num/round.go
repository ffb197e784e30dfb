// Package num holds decimal helpers shared by the solver and orchestrator.
package num

import "github.com/shopspring/decimal"

// RoundDown truncates toward zero at the given number of decimal places.
// On-chain amounts must never round up past the available balance.
func RoundDown(value decimal.Decimal, places int32) decimal.Decimal {
	if value.IsNegative() {
		return value.RoundCeil(places)
	}
	return value.RoundFloor(places)
}
