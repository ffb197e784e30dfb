// Command verify is a read-only probe: it connects to the venue and both
// chains, prints the current snapshot, and shows what the solver would do
// with it. Nothing is signed or submitted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"xchain-basis-bot/internal/balance"
	"xchain-basis-bot/internal/chain"
	"xchain-basis-bot/internal/config"
	"xchain-basis-bot/internal/logging"
	"xchain-basis-bot/internal/strategy"
	"xchain-basis-bot/internal/venue"

	"github.com/shopspring/decimal"
)

const defaultEnvFile = ".env"

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	showFunding := flag.Bool("funding", false, "print funding history stats and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	privateKey := os.Getenv("XBB_PRIVATE_KEY")
	if privateKey == "" {
		fatal(fmt.Errorf("XBB_PRIVATE_KEY is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	spot, err := chain.New(
		cfg.Chain.Spot.RPCURL, cfg.Chain.QuoteAPIURL, cfg.Chain.Spot.ChainID,
		privateKey, cfg.Chain.Spot.Tokens, cfg.Chain.Spot.WrappedNative, log)
	if err != nil {
		fatal(err)
	}
	settlement, err := chain.New(
		cfg.Chain.Settlement.RPCURL, cfg.Chain.QuoteAPIURL, cfg.Chain.Settlement.ChainID,
		privateKey, cfg.Chain.Settlement.Tokens, cfg.Chain.Settlement.WrappedNative, log)
	if err != nil {
		fatal(err)
	}
	venueClient, err := venue.New(cfg.Venue, privateKey, cfg.Chain.QuoteToken, settlement, log)
	if err != nil {
		fatal(err)
	}
	if err := spot.Connect(ctx); err != nil {
		fatal(err)
	}
	defer spot.Close()
	if err := settlement.Connect(ctx); err != nil {
		fatal(err)
	}
	defer settlement.Close()
	if err := venueClient.Connect(ctx); err != nil {
		fatal(err)
	}
	defer venueClient.Close()

	asset := cfg.Strategy.Asset
	if *showFunding {
		rates, err := venueClient.FundingHistory(ctx, asset, cfg.Strategy.LookbackDays)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("funding samples over %d days: %d\n", cfg.Strategy.LookbackDays, len(rates))
		if len(rates) > 0 {
			fmt.Printf("latest rate: %s\n", rates[len(rates)-1])
		}
		return
	}

	balances := balance.New(venueClient, spot, settlement, asset, asset, cfg.Chain.QuoteToken, nil, log)
	snap := balances.Snapshot(ctx)

	fmt.Printf("wallet:                 %s\n", venueClient.Wallet().Hex())
	fmt.Printf("perp account value:     %s\n", snap.PerpAccountValue)
	fmt.Printf("perp position size:     %s\n", snap.PerpPositionSize)
	fmt.Printf("spot quote balance:     %s\n", snap.SpotQuoteBalance)
	fmt.Printf("spot base balance:      %s\n", snap.SpotBaseBalance)
	fmt.Printf("bridge transit balance: %s\n", snap.TransitBalance)
	fmt.Printf("mark price:             %s\n", snap.MarkPrice)
	fmt.Printf("funding rate:           %s\n", snap.FundingRate)
	if lev, ok := snap.CurrentLeverage(); ok {
		fmt.Printf("current leverage:       %s\n", lev)
	}

	targetLeverage := decimal.NewFromFloat(cfg.Strategy.TargetLeverage)
	alloc := strategy.Solve(
		snap.PerpAccountValue, snap.SpotQuoteBalance, snap.SpotBaseBalance,
		snap.MarkPrice, targetLeverage)
	kase := strategy.Classify(snap.PerpAccountValue, snap.SpotQuoteBalance, alloc.Collateral)
	fmt.Printf("total capital:          %s\n", alloc.Total)
	fmt.Printf("optimal collateral:     %s\n", alloc.Collateral)
	fmt.Printf("target perp size:       %s\n", alloc.TargetPerpSize)
	fmt.Printf("rebalance case:         %s\n", kase)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
