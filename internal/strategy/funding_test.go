package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeHistory struct {
	samples []decimal.Decimal
	err     error
}

func (f fakeHistory) FundingHistory(ctx context.Context, asset string, days int) ([]decimal.Decimal, error) {
	return f.samples, f.err
}

func repeat(s string, n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = d(s)
	}
	return out
}

func TestFundingGateProfitable(t *testing.T) {
	gate := &FundingGate{
		History:      fakeHistory{samples: repeat("0.0001", 20)},
		LookbackDays: 7,
		MinSamples:   10,
		Log:          zap.NewNop(),
	}
	if !gate.IsProfitable(context.Background(), "ETH") {
		t.Fatal("constant positive funding should pass the gate")
	}
}

func TestFundingGateNegativeMean(t *testing.T) {
	gate := &FundingGate{
		History:      fakeHistory{samples: repeat("-0.0001", 20)},
		LookbackDays: 7,
		MinSamples:   10,
		Log:          zap.NewNop(),
	}
	if gate.IsProfitable(context.Background(), "ETH") {
		t.Fatal("negative funding should fail the gate")
	}
}

func TestFundingGateVolatileSeriesFails(t *testing.T) {
	// Mean slightly positive but stddev dominates.
	samples := append(repeat("0.001", 10), repeat("-0.001", 9)...)
	gate := &FundingGate{
		History:      fakeHistory{samples: samples},
		LookbackDays: 7,
		MinSamples:   10,
		Log:          zap.NewNop(),
	}
	if gate.IsProfitable(context.Background(), "ETH") {
		t.Fatal("high-variance funding should fail mean-stddev > 0")
	}
}

func TestFundingGateSparseFollowsPolicy(t *testing.T) {
	gate := &FundingGate{
		History:          fakeHistory{samples: repeat("-0.01", 3)},
		LookbackDays:     7,
		MinSamples:       10,
		FailOpenOnSparse: true,
		Log:              zap.NewNop(),
	}
	if !gate.IsProfitable(context.Background(), "ETH") {
		t.Fatal("sparse data should fail open when configured")
	}
	gate.FailOpenOnSparse = false
	if gate.IsProfitable(context.Background(), "ETH") {
		t.Fatal("sparse data should fail closed when configured")
	}
}

func TestFundingGateErrorFollowsPolicy(t *testing.T) {
	gate := &FundingGate{
		History:         fakeHistory{err: errors.New("boom")},
		LookbackDays:    7,
		MinSamples:      10,
		FailOpenOnError: true,
		Log:             zap.NewNop(),
	}
	if !gate.IsProfitable(context.Background(), "ETH") {
		t.Fatal("fetch error should fail open when configured")
	}
	gate.FailOpenOnError = false
	if gate.IsProfitable(context.Background(), "ETH") {
		t.Fatal("fetch error should fail closed when configured")
	}
}

func TestFundingStatsSinglePoint(t *testing.T) {
	mean, stddev := fundingStats(repeat("0.0005", 1))
	if mean != 0.0005 {
		t.Fatalf("mean = %v, want 0.0005", mean)
	}
	if stddev != 0 {
		t.Fatalf("stddev = %v, want 0 for a single sample", stddev)
	}
}
