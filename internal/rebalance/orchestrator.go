// Package rebalance sequences the capital flows that move the strategy from
// its observed state to the solver's optimal allocation. Every flow is
// followed by a fresh snapshot; balances are never advanced by local
// arithmetic.
package rebalance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xchain-basis-bot/internal/bridge"
	"xchain-basis-bot/internal/metrics"
	"xchain-basis-bot/internal/num"
	"xchain-basis-bot/internal/state"
	"xchain-basis-bot/internal/strategy"
)

const (
	withdrawWait         = 15 * time.Minute
	withdrawPollInterval = 5 * time.Second
)

// withdrawFeeBufferUSD covers the venue's flat withdrawal fee when deciding
// whether the withdrawn amount has landed.
var withdrawFeeBufferUSD = decimal.NewFromInt(2)

// VenueExecutor is the write side of the perp venue client.
type VenueExecutor interface {
	AdjustPosition(ctx context.Context, asset string, target decimal.Decimal) error
	WithdrawToSettlement(ctx context.Context, amount decimal.Decimal) error
	DepositFromSettlement(ctx context.Context, amount decimal.Decimal) error
}

// SpotExecutor trades and reads balances on the spot chain.
type SpotExecutor interface {
	Swap(ctx context.Context, fromToken, toToken string, amount decimal.Decimal) error
	TokenBalance(ctx context.Context, token string) (decimal.Decimal, error)
}

// Bridger moves quote collateral between the spot and settlement chains,
// blocking until the destination fill is confirmed.
type Bridger interface {
	Bridge(ctx context.Context, dir bridge.Direction, token string, amount decimal.Decimal) error
}

// SettlementReader reads quote balances on the settlement chain.
type SettlementReader interface {
	TokenBalance(ctx context.Context, token string) (decimal.Decimal, error)
}

// Snapshotter re-reads all ledgers.
type Snapshotter interface {
	Snapshot(ctx context.Context) strategy.Snapshot
}

// Config carries the strategy parameters the orchestrator needs. Amounts are
// USD thresholds below which a flow is skipped as dust.
type Config struct {
	Asset      string
	BaseToken  string
	QuoteToken string

	TargetLeverage decimal.Decimal
	LeverageBuffer decimal.Decimal

	MinSwapUSD    decimal.Decimal
	MinTransitUSD decimal.Decimal
	MinBridgeUSD  decimal.Decimal
	MinDepositUSD decimal.Decimal
	SwapPrecision int32
}

type Orchestrator struct {
	cfg        Config
	venue      VenueExecutor
	spot       SpotExecutor
	settlement SettlementReader
	bridge     Bridger
	snaps      Snapshotter
	journal    state.Journal
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func New(cfg Config, venue VenueExecutor, spot SpotExecutor, settlement SettlementReader, bridger Bridger, snaps Snapshotter, journal state.Journal, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Orchestrator{
		cfg:        cfg,
		venue:      venue,
		spot:       spot,
		settlement: settlement,
		bridge:     bridger,
		snaps:      snaps,
		journal:    journal,
		metrics:    m,
		log:        log,
	}
}

// Execute runs one full rebalance pass: drain any in-transit collateral,
// classify the snapshot against the optimal allocation, run that case's
// flows, and re-hedge the perp leg against the resulting balances.
func (o *Orchestrator) Execute(ctx context.Context, snap strategy.Snapshot) error {
	if snap.TransitBalance.GreaterThanOrEqual(o.cfg.MinTransitUSD) {
		if err := o.drainTransit(ctx, snap); err != nil {
			return fmt.Errorf("drain transit: %w", err)
		}
		snap = o.snaps.Snapshot(ctx)
	}

	alloc := strategy.Solve(
		snap.PerpAccountValue,
		snap.SpotQuoteBalance,
		snap.SpotBaseBalance,
		snap.MarkPrice,
		o.cfg.TargetLeverage,
	)
	kase := strategy.Classify(snap.PerpAccountValue, snap.SpotQuoteBalance, alloc.Collateral)
	o.log.Info("rebalance case selected",
		zap.String("case", kase.String()),
		zap.String("total", alloc.Total.String()),
		zap.String("optimal_collateral", alloc.Collateral.String()),
		zap.String("perp_collateral", snap.PerpAccountValue.String()))

	var err error
	switch kase {
	case strategy.CaseExcessCollateral:
		err = o.releaseExcess(ctx, snap, alloc)
	case strategy.CaseQuoteCoversGap:
		err = o.fillFromQuote(ctx, snap, alloc)
	case strategy.CaseLiquidateBase:
		err = o.liquidateBase(ctx, snap, alloc)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", kase, err)
	}

	if err := o.adjustHedge(ctx); err != nil {
		return fmt.Errorf("adjust hedge: %w", err)
	}

	final := o.snaps.Snapshot(ctx).WithTags("post_rebalance")
	if err := o.journal.Append(ctx, state.RecordFromSnapshot(final)); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// drainTransit routes collateral sitting on the settlement chain. The share
// the venue needs to reach optimal collateral is deposited; the rest is
// bridged back to the spot chain. Transit is included in total capital here
// because the split decides where it belongs.
func (o *Orchestrator) drainTransit(ctx context.Context, snap strategy.Snapshot) error {
	transit := snap.TransitBalance
	total := snap.TotalCapital().Add(transit)
	collateral := total.Div(o.cfg.TargetLeverage.Add(decimal.NewFromInt(1)))
	needed := decimal.Max(decimal.Zero, collateral.Sub(snap.PerpAccountValue))

	deposit := num.RoundDown(decimal.Min(transit, needed), o.cfg.SwapPrecision)
	if deposit.GreaterThanOrEqual(o.cfg.MinDepositUSD) {
		if err := o.venue.DepositFromSettlement(ctx, deposit); err != nil {
			return err
		}
	} else {
		deposit = decimal.Zero
	}

	remainder := num.RoundDown(transit.Sub(deposit), o.cfg.SwapPrecision)
	if remainder.GreaterThanOrEqual(o.cfg.MinBridgeUSD) {
		if err := o.bridgeTransfer(ctx, bridge.ToSpot, remainder); err != nil {
			return err
		}
	}
	o.log.Info("transit drained",
		zap.String("deposited", deposit.String()),
		zap.String("bridged_to_spot", remainder.String()))
	return nil
}

// releaseExcess handles x >= C: surplus venue collateral is withdrawn to the
// settlement chain, bridged to the spot chain once it lands, and swapped into
// the base leg. A withdrawal that never lands fails the cycle; the funds then
// show up as transit balance and are drained on the next pass.
func (o *Orchestrator) releaseExcess(ctx context.Context, snap strategy.Snapshot, alloc strategy.Allocation) error {
	excess := num.RoundDown(snap.PerpAccountValue.Sub(alloc.Collateral), o.cfg.SwapPrecision)
	if excess.LessThan(o.cfg.MinBridgeUSD) {
		o.log.Debug("excess collateral below threshold", zap.String("excess", excess.String()))
		return nil
	}
	baseline, err := o.settlement.TokenBalance(ctx, o.cfg.QuoteToken)
	if err != nil {
		return fmt.Errorf("settlement quote balance: %w", err)
	}
	if err := o.venue.WithdrawToSettlement(ctx, excess); err != nil {
		return err
	}
	arrived, err := o.waitForWithdrawal(ctx, baseline, excess)
	if err != nil {
		return err
	}
	toBridge := num.RoundDown(decimal.Min(excess, arrived), o.cfg.SwapPrecision)
	if toBridge.GreaterThanOrEqual(o.cfg.MinBridgeUSD) {
		if err := o.bridgeTransfer(ctx, bridge.ToSpot, toBridge); err != nil {
			return err
		}
	}
	quote, err := o.spot.TokenBalance(ctx, o.cfg.QuoteToken)
	if err != nil {
		return fmt.Errorf("spot quote balance: %w", err)
	}
	return o.swapQuoteToBase(ctx, quote)
}

// waitForWithdrawal polls the settlement chain until the withdrawn amount
// lands, allowing for the venue's flat withdrawal fee.
func (o *Orchestrator) waitForWithdrawal(ctx context.Context, baseline, amount decimal.Decimal) (decimal.Decimal, error) {
	expected := amount.Sub(withdrawFeeBufferUSD)
	deadline := time.NewTimer(withdrawWait)
	defer deadline.Stop()
	ticker := time.NewTicker(withdrawPollInterval)
	defer ticker.Stop()
	for {
		balance, err := o.settlement.TokenBalance(ctx, o.cfg.QuoteToken)
		if err != nil {
			o.log.Warn("settlement balance poll failed", zap.Error(err))
		} else if delta := balance.Sub(baseline); delta.GreaterThanOrEqual(expected) {
			return delta, nil
		}
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-deadline.C:
			return decimal.Zero, fmt.Errorf("withdrawal of %s not observed within %s", amount, withdrawWait)
		case <-ticker.C:
		}
	}
}

// fillFromQuote handles x < C <= x+y: bridge the collateral gap out of spot
// quote, deposit it at the venue, and convert whatever quote remains into the
// base leg.
func (o *Orchestrator) fillFromQuote(ctx context.Context, snap strategy.Snapshot, alloc strategy.Allocation) error {
	gap := alloc.Collateral.Sub(snap.PerpAccountValue)
	toBridge := num.RoundDown(decimal.Min(gap, snap.SpotQuoteBalance), o.cfg.SwapPrecision)
	if toBridge.GreaterThanOrEqual(o.cfg.MinBridgeUSD) {
		if err := o.bridgeTransfer(ctx, bridge.ToSettlement, toBridge); err != nil {
			return err
		}
		if err := o.depositArrived(ctx, toBridge); err != nil {
			return err
		}
	}
	remaining, err := o.spot.TokenBalance(ctx, o.cfg.QuoteToken)
	if err != nil {
		return fmt.Errorf("spot quote balance: %w", err)
	}
	return o.swapQuoteToBase(ctx, decimal.Min(toBridge, remaining))
}

// liquidateBase handles C > x+y: sell enough base to cover the collateral
// shortfall, then move every spot quote token to the venue.
func (o *Orchestrator) liquidateBase(ctx context.Context, snap strategy.Snapshot, alloc strategy.Allocation) error {
	shortfall := alloc.Collateral.Sub(snap.PerpAccountValue).Sub(snap.SpotQuoteBalance)
	if !snap.MarkPrice.IsPositive() {
		return fmt.Errorf("mark price %s not positive, cannot size base sale", snap.MarkPrice)
	}
	baseToSell := num.RoundDown(
		decimal.Min(shortfall.Div(snap.MarkPrice), snap.SpotBaseBalance),
		o.cfg.SwapPrecision,
	)
	if baseToSell.IsPositive() && baseToSell.Mul(snap.MarkPrice).GreaterThanOrEqual(o.cfg.MinSwapUSD) {
		if err := o.swapTransfer(ctx, o.cfg.BaseToken, o.cfg.QuoteToken, baseToSell); err != nil {
			return err
		}
	}
	quote, err := o.spot.TokenBalance(ctx, o.cfg.QuoteToken)
	if err != nil {
		return fmt.Errorf("spot quote balance: %w", err)
	}
	toBridge := num.RoundDown(quote, o.cfg.SwapPrecision)
	if toBridge.LessThan(o.cfg.MinBridgeUSD) {
		return nil
	}
	if err := o.bridgeTransfer(ctx, bridge.ToSettlement, toBridge); err != nil {
		return err
	}
	return o.depositArrived(ctx, toBridge)
}

// adjustHedge re-reads the ledgers and targets -min((L+buffer)*x/p, z): the
// short is capped by the leveraged capacity of the collateral actually at the
// venue and by the spot base inventory backing it. Never a naked short.
func (o *Orchestrator) adjustHedge(ctx context.Context) error {
	snap := o.snaps.Snapshot(ctx)
	if !snap.MarkPrice.IsPositive() {
		return fmt.Errorf("mark price %s not positive, cannot size hedge", snap.MarkPrice)
	}
	maxLeverage := o.cfg.TargetLeverage.Add(o.cfg.LeverageBuffer)
	capacity := maxLeverage.Mul(snap.PerpAccountValue).Div(snap.MarkPrice)
	size := decimal.Min(capacity, snap.SpotBaseBalance)
	if size.IsNegative() {
		size = decimal.Zero
	}
	target := size.Neg()

	if err := o.venue.AdjustPosition(ctx, o.cfg.Asset, target); err != nil {
		o.metrics.PerpAdjustFailures.Inc()
		return err
	}
	o.metrics.PerpAdjusts.Inc()
	return nil
}

// depositArrived forwards bridged collateral into the venue, capped at what
// actually landed on the settlement chain.
func (o *Orchestrator) depositArrived(ctx context.Context, expected decimal.Decimal) error {
	// Relayer fees mean slightly less than the bridged amount arrives.
	// Depositing the observed balance avoids overdrawing.
	arrived, err := o.settlement.TokenBalance(ctx, o.cfg.QuoteToken)
	if err != nil {
		return fmt.Errorf("settlement quote balance: %w", err)
	}
	deposit := num.RoundDown(decimal.Min(expected, arrived), o.cfg.SwapPrecision)
	if deposit.LessThan(o.cfg.MinDepositUSD) {
		o.log.Warn("arrived collateral below venue minimum, leaving in transit",
			zap.String("expected", expected.String()),
			zap.String("arrived", arrived.String()))
		return nil
	}
	return o.venue.DepositFromSettlement(ctx, deposit)
}

func (o *Orchestrator) swapQuoteToBase(ctx context.Context, quote decimal.Decimal) error {
	amount := num.RoundDown(quote, o.cfg.SwapPrecision)
	if amount.LessThan(o.cfg.MinSwapUSD) {
		return nil
	}
	return o.swapTransfer(ctx, o.cfg.QuoteToken, o.cfg.BaseToken, amount)
}

func (o *Orchestrator) swapTransfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if err := o.spot.Swap(ctx, from, to, amount); err != nil {
		o.metrics.SwapFailures.Inc()
		return err
	}
	o.metrics.Swaps.Inc()
	return nil
}

func (o *Orchestrator) bridgeTransfer(ctx context.Context, dir bridge.Direction, amount decimal.Decimal) error {
	if err := o.bridge.Bridge(ctx, dir, o.cfg.QuoteToken, amount); err != nil {
		o.metrics.BridgeFailures.Inc()
		return err
	}
	o.metrics.BridgeTransfers.Inc()
	return nil
}
