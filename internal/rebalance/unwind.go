package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xchain-basis-bot/internal/num"
	"xchain-basis-bot/internal/state"
)

// Unwind exits the strategy when funding turns unprofitable: the perp short
// is closed and all spot base is sold back to quote. Both legs run
// concurrently since neither depends on the other; collateral stays where it
// is so a later entry starts cheaply.
func (o *Orchestrator) Unwind(ctx context.Context) error {
	o.metrics.Unwinds.Inc()
	snap := o.snaps.Snapshot(ctx)
	o.log.Info("unwinding strategy",
		zap.String("perp_position", snap.PerpPositionSize.String()),
		zap.String("spot_base", snap.SpotBaseBalance.String()))
	if err := o.journal.Append(ctx, state.RecordFromSnapshot(snap)); err != nil {
		o.log.Warn("journal append failed", zap.Error(err))
	}

	var (
		wg      sync.WaitGroup
		perpErr error
		swapErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := o.venue.AdjustPosition(ctx, o.cfg.Asset, decimal.Zero); err != nil {
			perpErr = fmt.Errorf("close perp: %w", err)
			o.metrics.PerpAdjustFailures.Inc()
			return
		}
		o.metrics.PerpAdjusts.Inc()
	}()
	go func() {
		defer wg.Done()
		// The exit sells everything; the usual swap floor does not apply,
		// only an amount that rounds to zero is skipped.
		base := num.RoundDown(snap.SpotBaseBalance, o.cfg.SwapPrecision)
		if !base.IsPositive() {
			return
		}
		if err := o.swapTransfer(ctx, o.cfg.BaseToken, o.cfg.QuoteToken, base); err != nil {
			swapErr = fmt.Errorf("sell base: %w", err)
		}
	}()
	wg.Wait()
	if err := errors.Join(perpErr, swapErr); err != nil {
		return err
	}

	final := o.snaps.Snapshot(ctx).WithTags("post_unwind")
	if err := o.journal.Append(ctx, state.RecordFromSnapshot(final)); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}
