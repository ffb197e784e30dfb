package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSolveAllocatesCollateral(t *testing.T) {
	// x=400, y=50, z=0, p=2000, L=3: T=450, C=112.5, target=-0.16875.
	alloc := Solve(d("400"), d("50"), d("0"), d("2000"), d("3"))
	if !alloc.Total.Equal(d("450")) {
		t.Fatalf("total = %s, want 450", alloc.Total)
	}
	if !alloc.Collateral.Equal(d("112.5")) {
		t.Fatalf("collateral = %s, want 112.5", alloc.Collateral)
	}
	if !alloc.TargetPerpSize.Equal(d("-0.16875")) {
		t.Fatalf("target perp size = %s, want -0.16875", alloc.TargetPerpSize)
	}
}

func TestSolveValuesBaseAtMark(t *testing.T) {
	alloc := Solve(d("100"), d("100"), d("2"), d("100"), d("3"))
	if !alloc.Total.Equal(d("400")) {
		t.Fatalf("total = %s, want 400", alloc.Total)
	}
	if !alloc.Collateral.Equal(d("100")) {
		t.Fatalf("collateral = %s, want 100", alloc.Collateral)
	}
}

func TestSolveZeroPriceHasNoTarget(t *testing.T) {
	alloc := Solve(d("100"), d("100"), d("0"), d("0"), d("3"))
	if !alloc.TargetPerpSize.IsZero() {
		t.Fatalf("target perp size = %s, want 0", alloc.TargetPerpSize)
	}
}

func TestSolveIdempotent(t *testing.T) {
	first := Solve(d("400"), d("50"), d("0"), d("2000"), d("3"))
	second := Solve(d("400"), d("50"), d("0"), d("2000"), d("3"))
	if !first.Collateral.Equal(second.Collateral) || !first.TargetPerpSize.Equal(second.TargetPerpSize) {
		t.Fatalf("solver not deterministic: %+v vs %+v", first, second)
	}
}

func TestClassifyExcessCollateral(t *testing.T) {
	if got := Classify(d("400"), d("50"), d("112.5")); got != CaseExcessCollateral {
		t.Fatalf("case = %s, want %s", got, CaseExcessCollateral)
	}
}

func TestClassifyExactCollateralIsExcess(t *testing.T) {
	// x == C resolves to the first case; the closed lower bound matters.
	if got := Classify(d("112.5"), d("50"), d("112.5")); got != CaseExcessCollateral {
		t.Fatalf("case = %s, want %s", got, CaseExcessCollateral)
	}
}

func TestClassifyQuoteCoversGap(t *testing.T) {
	if got := Classify(d("50"), d("100"), d("112.5")); got != CaseQuoteCoversGap {
		t.Fatalf("case = %s, want %s", got, CaseQuoteCoversGap)
	}
}

func TestClassifyQuoteExactlyCoversGap(t *testing.T) {
	// C == x+y stays in the second case.
	if got := Classify(d("50"), d("62.5"), d("112.5")); got != CaseQuoteCoversGap {
		t.Fatalf("case = %s, want %s", got, CaseQuoteCoversGap)
	}
}

func TestClassifyLiquidateBase(t *testing.T) {
	if got := Classify(d("10"), d("20"), d("112.5")); got != CaseLiquidateBase {
		t.Fatalf("case = %s, want %s", got, CaseLiquidateBase)
	}
}

func TestClassifyExactlyOneCase(t *testing.T) {
	inputs := []struct{ x, y, c string }{
		{"400", "50", "112.5"},
		{"112.5", "50", "112.5"},
		{"50", "100", "112.5"},
		{"50", "62.5", "112.5"},
		{"10", "20", "112.5"},
		{"0", "0", "0"},
	}
	for _, in := range inputs {
		got := Classify(d(in.x), d(in.y), d(in.c))
		if got != CaseExcessCollateral && got != CaseQuoteCoversGap && got != CaseLiquidateBase {
			t.Fatalf("Classify(%s,%s,%s) = %v, not a valid case", in.x, in.y, in.c, got)
		}
	}
}
