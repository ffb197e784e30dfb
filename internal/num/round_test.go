package num

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundDownTruncates(t *testing.T) {
	got := RoundDown(decimal.RequireFromString("0.1234567"), 6)
	if want := "0.123456"; got.String() != want {
		t.Fatalf("RoundDown = %s, want %s", got, want)
	}
}

func TestRoundDownNegativeTowardZero(t *testing.T) {
	got := RoundDown(decimal.RequireFromString("-0.1234567"), 6)
	if want := "-0.123456"; got.String() != want {
		t.Fatalf("RoundDown = %s, want %s", got, want)
	}
}

func TestRoundDownExactValueUnchanged(t *testing.T) {
	got := RoundDown(decimal.RequireFromString("12.5"), 6)
	if want := "12.5"; got.String() != want {
		t.Fatalf("RoundDown = %s, want %s", got, want)
	}
}
