package strategy

import "github.com/shopspring/decimal"

// Case is one of the three disjoint rebalancing paths chosen by comparing
// current perp collateral to the optimal collateral.
type Case int

const (
	// CaseExcessCollateral: x >= C, venue holds more collateral than needed.
	CaseExcessCollateral Case = iota + 1
	// CaseQuoteCoversGap: x < C <= x+y, spot-chain quote can fill the gap.
	CaseQuoteCoversGap
	// CaseLiquidateBase: C > x+y, spot base must be sold to raise collateral.
	CaseLiquidateBase
)

func (c Case) String() string {
	switch c {
	case CaseExcessCollateral:
		return "excess_collateral"
	case CaseQuoteCoversGap:
		return "quote_covers_gap"
	case CaseLiquidateBase:
		return "liquidate_base"
	default:
		return "unknown"
	}
}

// Allocation is the output of the solver for one snapshot.
type Allocation struct {
	Total          decimal.Decimal // T = x + y + z*p
	Collateral     decimal.Decimal // C = T / (L + 1)
	TargetPerpSize decimal.Decimal // -L*C/p, the short hedge
}

// Solve computes the optimal collateral split. The perp leg carries L turns
// of leverage against C while the spot leg holds the equal-and-opposite
// notional L*C, so C is the residual after removing the levered notional
// from total capital. Pure function, no I/O.
func Solve(x, y, z, p, targetLeverage decimal.Decimal) Allocation {
	total := x.Add(y).Add(z.Mul(p))
	collateral := total.Div(targetLeverage.Add(decimal.NewFromInt(1)))
	alloc := Allocation{Total: total, Collateral: collateral}
	if p.IsPositive() {
		alloc.TargetPerpSize = targetLeverage.Mul(collateral).Div(p).Neg()
	}
	return alloc
}

// Classify picks the rebalancing case. The conditions are evaluated in this
// exact order with closed lower bounds; ties resolve to the earlier case.
// Reordering the tests changes observable behavior at the boundaries.
func Classify(x, y, c decimal.Decimal) Case {
	if x.GreaterThanOrEqual(c) {
		return CaseExcessCollateral
	}
	if c.LessThanOrEqual(x.Add(y)) {
		return CaseQuoteCoversGap
	}
	return CaseLiquidateBase
}
