// Package app wires the venue, chain, bridge, and strategy components
// together and drives the monitor and rebalance loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xchain-basis-bot/internal/balance"
	"xchain-basis-bot/internal/bridge"
	"xchain-basis-bot/internal/chain"
	"xchain-basis-bot/internal/config"
	"xchain-basis-bot/internal/gas"
	"xchain-basis-bot/internal/metrics"
	"xchain-basis-bot/internal/rebalance"
	"xchain-basis-bot/internal/state"
	"xchain-basis-bot/internal/state/sqlite"
	"xchain-basis-bot/internal/strategy"
	"xchain-basis-bot/internal/timescale"
	"xchain-basis-bot/internal/venue"
)

// bridgeSession is the releasable network session held by the bridge client.
// Close is safe to call between uses; the next request opens a fresh
// connection.
type bridgeSession interface {
	Close()
}

type App struct {
	cfg *config.Config
	log *zap.Logger

	store      *sqlite.Store
	venue      *venue.Client
	spot       *chain.Client
	settlement *chain.Client
	bridge     bridgeSession
	balances   *balance.Aggregator
	gas        *gas.Manager
	orch       *rebalance.Orchestrator
	funding    *strategy.FundingGate
	journal    *journal
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	mirror     *timescale.Writer

	targetLeverage decimal.Decimal
	leverageBuffer decimal.Decimal
	minTransit     decimal.Decimal
}

// New constructs every component without touching the network; Connect inside
// Run performs the I/O.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	privateKey := strings.TrimSpace(os.Getenv("XBB_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("XBB_PRIVATE_KEY is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	spotChain, err := chain.New(
		cfg.Chain.Spot.RPCURL, cfg.Chain.QuoteAPIURL, cfg.Chain.Spot.ChainID,
		privateKey, cfg.Chain.Spot.Tokens, cfg.Chain.Spot.WrappedNative, log)
	if err != nil {
		return nil, fmt.Errorf("spot chain: %w", err)
	}
	settlementChain, err := chain.New(
		cfg.Chain.Settlement.RPCURL, cfg.Chain.QuoteAPIURL, cfg.Chain.Settlement.ChainID,
		privateKey, cfg.Chain.Settlement.Tokens, cfg.Chain.Settlement.WrappedNative, log)
	if err != nil {
		return nil, fmt.Errorf("settlement chain: %w", err)
	}

	venueClient, err := venue.New(cfg.Venue, privateKey, cfg.Chain.QuoteToken, settlementChain, log)
	if err != nil {
		return nil, err
	}
	if wallet := strings.TrimSpace(os.Getenv("XBB_WALLET_ADDRESS")); wallet != "" {
		if !strings.EqualFold(wallet, venueClient.Wallet().Hex()) {
			return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s",
				wallet, venueClient.Wallet().Hex())
		}
	}

	bridgeClient := bridge.New(
		cfg.Bridge.APIURL, spotChain, settlementChain,
		cfg.Chain.Spot.ChainID, cfg.Chain.Settlement.ChainID,
		cfg.Bridge.PollInterval, cfg.Bridge.MaxFillWait, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	balances := balance.New(
		venueClient, spotChain, settlementChain,
		cfg.Strategy.Asset, cfg.Strategy.Asset, cfg.Chain.QuoteToken, m, log)

	mirror, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale: %w", err)
	}
	jrnl := &journal{store: store, mirror: mirror}

	var gasManager *gas.Manager
	if cfg.Gas.Enabled {
		gasManager = gas.New(
			spotChain, settlementChain, venueClient,
			cfg.Strategy.Asset, cfg.Chain.QuoteToken, cfg.Strategy.Asset,
			cfg.Chain.Spot.WrappedNative, cfg.Chain.Settlement.WrappedNative,
			cfg.Gas.MinNativeBalance, cfg.Gas.TopUpUSD, log)
	}

	orchCfg := rebalance.Config{
		Asset:          cfg.Strategy.Asset,
		BaseToken:      cfg.Strategy.Asset,
		QuoteToken:     cfg.Chain.QuoteToken,
		TargetLeverage: decimal.NewFromFloat(cfg.Strategy.TargetLeverage),
		LeverageBuffer: decimal.NewFromFloat(cfg.Strategy.LeverageBuffer),
		MinSwapUSD:     decimal.NewFromFloat(cfg.Strategy.MinSwapUSD),
		MinTransitUSD:  decimal.NewFromFloat(cfg.Strategy.MinTransitUSD),
		MinBridgeUSD:   decimal.NewFromFloat(cfg.Bridge.MinBridgeUSD),
		MinDepositUSD:  decimal.NewFromFloat(cfg.Venue.MinDepositUSD),
		SwapPrecision:  cfg.Strategy.SwapPrecision,
	}
	orch := rebalance.New(orchCfg, venueClient, spotChain, settlementChain, bridgeClient, balances, jrnl, m, log)

	fundingGate := &strategy.FundingGate{
		History:          venueClient,
		LookbackDays:     cfg.Strategy.LookbackDays,
		MinSamples:       cfg.Strategy.MinSamples,
		FailOpenOnSparse: cfg.Strategy.FailOpenOnSparse,
		FailOpenOnError:  cfg.Strategy.FailOpenOnError,
		Log:              log,
	}

	return &App{
		cfg:            cfg,
		log:            log,
		store:          store,
		venue:          venueClient,
		spot:           spotChain,
		settlement:     settlementChain,
		bridge:         bridgeClient,
		balances:       balances,
		gas:            gasManager,
		orch:           orch,
		funding:        fundingGate,
		journal:        jrnl,
		metrics:        m,
		prom:           prom,
		mirror:         mirror,
		targetLeverage: decimal.NewFromFloat(cfg.Strategy.TargetLeverage),
		leverageBuffer: decimal.NewFromFloat(cfg.Strategy.LeverageBuffer),
		minTransit:     decimal.NewFromFloat(cfg.Strategy.MinTransitUSD),
	}, nil
}

func (a *App) connect(ctx context.Context) error {
	if err := a.spot.Connect(ctx); err != nil {
		return fmt.Errorf("connect spot chain: %w", err)
	}
	if err := a.settlement.Connect(ctx); err != nil {
		return fmt.Errorf("connect settlement chain: %w", err)
	}
	if err := a.venue.Connect(ctx); err != nil {
		return fmt.Errorf("connect venue: %w", err)
	}
	if err := a.venue.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	}
	return nil
}

func (a *App) close() {
	a.venue.Close()
	a.bridge.Close()
	a.spot.Close()
	a.settlement.Close()
	if err := a.mirror.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
}

// Run drives the strategy until the context ends: a monitor loop that
// observes and persists, and a rebalance loop that evaluates gates and moves
// capital.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if err := a.connect(ctx); err != nil {
		return err
	}
	a.mirror.Start(ctx)

	go func() {
		if err := a.venue.RunStream(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("venue stream stopped", zap.Error(err))
		}
	}()
	if a.prom != nil {
		go a.serveMetrics(ctx)
	}
	go a.monitorLoop(ctx)

	ticker := time.NewTicker(a.cfg.Strategy.RebalancePeriod)
	defer ticker.Stop()
	for {
		if err := a.executeCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			a.cycleFailed(ctx, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunUnwind exits the position once and returns, for operator-driven
// shutdown.
func (a *App) RunUnwind(ctx context.Context) error {
	defer a.close()
	if err := a.connect(ctx); err != nil {
		return err
	}
	a.mirror.Start(ctx)
	return a.orch.Unwind(ctx)
}

// cycleFailed records the failure, releases held network sessions so a
// wedged connection cannot poison the next attempt, and sleeps the cooldown.
func (a *App) cycleFailed(ctx context.Context, err error) {
	a.metrics.CycleFailures.Inc()
	a.log.Error("rebalance cycle failed", zap.Error(err))
	a.bridge.Close()
	select {
	case <-ctx.Done():
	case <-time.After(a.cfg.Strategy.ErrorCooldown):
	}
}

func (a *App) executeCycle(ctx context.Context) error {
	a.metrics.CyclesRun.Inc()
	if a.gas != nil {
		if err := a.gas.EnsureGas(ctx); err != nil {
			a.log.Warn("gas top-up failed", zap.Error(err))
		}
	}

	snap := a.balances.Snapshot(ctx)
	if err := a.journal.Append(ctx, state.RecordFromSnapshot(snap)); err != nil {
		a.log.Warn("journal append failed", zap.Error(err))
	}

	if !a.funding.IsProfitable(ctx, a.cfg.Strategy.Asset) {
		a.log.Info("funding gate closed, unwinding")
		return a.orch.Unwind(ctx)
	}

	if a.withinBand(snap) && snap.TransitBalance.LessThan(a.minTransit) {
		lev, _ := snap.CurrentLeverage()
		a.log.Info("leverage within band, no rebalance needed",
			zap.String("leverage", lev.String()))
		return nil
	}
	return a.orch.Execute(ctx, snap)
}

// withinBand requires an open hedge; a flat position with capital deployed
// always rebalances.
func (a *App) withinBand(snap strategy.Snapshot) bool {
	if snap.PerpPositionSize.IsZero() && snap.TotalCapital().IsPositive() {
		return false
	}
	return strategy.WithinBand(
		snap.MarkPrice, snap.PerpAccountValue, snap.PerpPositionSize,
		a.targetLeverage, a.leverageBuffer)
}

func (a *App) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Strategy.MonitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := a.balances.Snapshot(ctx)
			if err := a.journal.Append(ctx, state.RecordFromSnapshot(snap)); err != nil {
				a.log.Warn("journal append failed", zap.Error(err))
			}
			lev, _ := snap.CurrentLeverage()
			a.log.Info("monitor",
				zap.String("perp_account_value", snap.PerpAccountValue.String()),
				zap.String("perp_position", snap.PerpPositionSize.String()),
				zap.String("spot_quote", snap.SpotQuoteBalance.String()),
				zap.String("spot_base", snap.SpotBaseBalance.String()),
				zap.String("transit", snap.TransitBalance.String()),
				zap.String("mark_price", snap.MarkPrice.String()),
				zap.String("funding_rate", snap.FundingRate.String()),
				zap.String("leverage", lev.String()))
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Warn("metrics server stopped", zap.Error(err))
	}
}

// journal fans a record out to the durable sqlite log and the best-effort
// timescale mirror.
type journal struct {
	store  *sqlite.Store
	mirror *timescale.Writer
}

func (j *journal) Append(ctx context.Context, rec state.Record) error {
	if err := j.store.Append(ctx, rec); err != nil {
		return err
	}
	j.mirror.Enqueue(rec)
	return nil
}
