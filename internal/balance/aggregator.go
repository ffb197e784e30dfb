// Package balance assembles a strategy snapshot from the three independent
// ledgers: the perp venue, the spot chain, and the settlement chain.
package balance

import (
	"context"
	"sync"
	"time"

	"xchain-basis-bot/internal/metrics"
	"xchain-basis-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VenueReader is the read-only side of the perp venue client.
type VenueReader interface {
	AccountValue(ctx context.Context) (decimal.Decimal, error)
	PositionSize(ctx context.Context, asset string) (decimal.Decimal, error)
	MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error)
	FundingRate(ctx context.Context, asset string) (decimal.Decimal, error)
}

// TokenReader reads ERC20 balances on one chain.
type TokenReader interface {
	TokenBalance(ctx context.Context, token string) (decimal.Decimal, error)
}

// Aggregator issues all balance, price, position, and funding queries
// concurrently. An individual failure degrades that field to zero rather
// than aborting the snapshot; downstream gates treat zeroed values
// conservatively. The aggregator holds no mutable cross-call state, so the
// monitoring and rebalance loops may call it concurrently.
type Aggregator struct {
	venue      VenueReader
	spot       TokenReader
	settlement TokenReader

	asset      string
	baseToken  string
	quoteToken string

	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(venue VenueReader, spot, settlement TokenReader, asset, baseToken, quoteToken string, m *metrics.Metrics, log *zap.Logger) *Aggregator {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Aggregator{
		venue:      venue,
		spot:       spot,
		settlement: settlement,
		asset:      asset,
		baseToken:  baseToken,
		quoteToken: quoteToken,
		metrics:    m,
		log:        log,
	}
}

func (a *Aggregator) Snapshot(ctx context.Context) strategy.Snapshot {
	snap := strategy.Snapshot{TakenAt: time.Now().UTC()}

	var wg sync.WaitGroup
	fetch := func(field string, dst *decimal.Decimal, fn func(context.Context) (decimal.Decimal, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := fn(ctx)
			if err != nil {
				a.metrics.SnapshotDegraded.Inc()
				a.log.Warn("snapshot field degraded to zero",
					zap.String("field", field), zap.Error(err))
				return
			}
			*dst = val
		}()
	}

	fetch("perp_account_value", &snap.PerpAccountValue, a.venue.AccountValue)
	fetch("perp_position_size", &snap.PerpPositionSize, func(ctx context.Context) (decimal.Decimal, error) {
		return a.venue.PositionSize(ctx, a.asset)
	})
	fetch("mark_price", &snap.MarkPrice, func(ctx context.Context) (decimal.Decimal, error) {
		return a.venue.MarkPrice(ctx, a.asset)
	})
	fetch("funding_rate", &snap.FundingRate, func(ctx context.Context) (decimal.Decimal, error) {
		return a.venue.FundingRate(ctx, a.asset)
	})
	fetch("spot_quote_balance", &snap.SpotQuoteBalance, func(ctx context.Context) (decimal.Decimal, error) {
		return a.spot.TokenBalance(ctx, a.quoteToken)
	})
	fetch("spot_base_balance", &snap.SpotBaseBalance, func(ctx context.Context) (decimal.Decimal, error) {
		return a.spot.TokenBalance(ctx, a.baseToken)
	})
	fetch("bridge_transit_balance", &snap.TransitBalance, func(ctx context.Context) (decimal.Decimal, error) {
		return a.settlement.TokenBalance(ctx, a.quoteToken)
	})
	wg.Wait()

	return snap
}
