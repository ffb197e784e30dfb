package strategy

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FundingHistory supplies historical periodic funding-rate samples over a
// lookback window, most recent last.
type FundingHistory interface {
	FundingHistory(ctx context.Context, asset string, days int) ([]decimal.Decimal, error)
}

// FundingGate decides whether the carry remains worth holding. It is a
// statistical test: profitable when mean - stddev of the sampled funding
// rates is positive. Sparse data and fetch errors fail open by policy; a
// transient data-source outage must not force an unwind.
type FundingGate struct {
	History      FundingHistory
	LookbackDays int
	MinSamples   int

	FailOpenOnSparse bool
	FailOpenOnError  bool

	Log *zap.Logger
}

func (g *FundingGate) IsProfitable(ctx context.Context, asset string) bool {
	samples, err := g.History.FundingHistory(ctx, asset, g.LookbackDays)
	if err != nil {
		g.Log.Warn("funding history fetch failed",
			zap.String("asset", asset), zap.Error(err))
		return g.FailOpenOnError
	}
	if len(samples) < g.MinSamples {
		g.Log.Info("insufficient funding samples",
			zap.String("asset", asset),
			zap.Int("samples", len(samples)),
			zap.Int("min_samples", g.MinSamples))
		return g.FailOpenOnSparse
	}
	mean, stddev := fundingStats(samples)
	profitable := mean-stddev > 0
	g.Log.Info("funding gate evaluated",
		zap.String("asset", asset),
		zap.Int("samples", len(samples)),
		zap.Float64("mean", mean),
		zap.Float64("stddev", stddev),
		zap.Bool("profitable", profitable))
	return profitable
}

// fundingStats computes the sample mean and population standard deviation.
// Funding rates are tiny ratios, so float64 is fine here; the stddev needs a
// square root that decimals cannot provide exactly anyway.
func fundingStats(samples []decimal.Decimal) (mean, stddev float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.InexactFloat64()
	}
	mean = sum / float64(len(samples))
	if len(samples) < 2 {
		return mean, 0
	}
	var sq float64
	for _, s := range samples {
		d := s.InexactFloat64() - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(samples)))
}
