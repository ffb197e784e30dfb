// Package gas keeps both execution wallets funded with native currency. Gas
// is bought by swapping a small slice of strategy capital into the wrapped
// native token and unwrapping it.
package gas

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xchain-basis-bot/internal/num"
)

const swapPrecision = 6

// Chain is the per-chain surface the manager drives.
type Chain interface {
	NativeBalance(ctx context.Context) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, token string) (decimal.Decimal, error)
	Swap(ctx context.Context, fromToken, toToken string, amount decimal.Decimal) error
	UnwrapNative(ctx context.Context, amount decimal.Decimal) error
}

// PriceSource prices the base asset so a base-funded top-up can be sized in
// USD terms.
type PriceSource interface {
	MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

type Manager struct {
	spot       Chain
	settlement Chain
	prices     PriceSource

	asset             string
	quoteToken        string
	baseToken         string
	spotWrapped       string
	settlementWrapped string

	minNative decimal.Decimal
	topUpUSD  decimal.Decimal

	log *zap.Logger
}

func New(spot, settlement Chain, prices PriceSource, asset, quoteToken, baseToken, spotWrapped, settlementWrapped string, minNative, topUpUSD float64, log *zap.Logger) *Manager {
	return &Manager{
		spot:              spot,
		settlement:        settlement,
		prices:            prices,
		asset:             asset,
		quoteToken:        quoteToken,
		baseToken:         baseToken,
		spotWrapped:       spotWrapped,
		settlementWrapped: settlementWrapped,
		minNative:         decimal.NewFromFloat(minNative),
		topUpUSD:          decimal.NewFromFloat(topUpUSD),
		log:               log,
	}
}

// EnsureGas tops up any wallet whose native balance fell under the floor.
// Both chains are checked every call; a failure on one does not stop the
// other.
func (m *Manager) EnsureGas(ctx context.Context) error {
	spotErr := m.ensureChain(ctx, "spot", m.spot, m.spotWrapped, true)
	settlementErr := m.ensureChain(ctx, "settlement", m.settlement, m.settlementWrapped, false)
	return errors.Join(spotErr, settlementErr)
}

func (m *Manager) ensureChain(ctx context.Context, name string, chain Chain, wrapped string, allowBase bool) error {
	native, err := chain.NativeBalance(ctx)
	if err != nil {
		return fmt.Errorf("%s native balance: %w", name, err)
	}
	if native.GreaterThanOrEqual(m.minNative) {
		return nil
	}
	m.log.Warn("native balance below floor",
		zap.String("chain", name),
		zap.String("balance", native.String()),
		zap.String("floor", m.minNative.String()))

	if err := m.buyWrapped(ctx, name, chain, wrapped, allowBase); err != nil {
		return err
	}

	bought, err := chain.TokenBalance(ctx, wrapped)
	if err != nil {
		return fmt.Errorf("%s wrapped balance: %w", name, err)
	}
	if !bought.IsPositive() {
		return fmt.Errorf("%s gas top-up produced no wrapped native", name)
	}
	if err := chain.UnwrapNative(ctx, bought); err != nil {
		return fmt.Errorf("%s unwrap: %w", name, err)
	}
	m.log.Info("gas topped up",
		zap.String("chain", name),
		zap.String("unwrapped", bought.String()))
	return nil
}

// buyWrapped swaps the top-up amount into wrapped native, preferring quote
// and falling back to the base leg where it is held.
func (m *Manager) buyWrapped(ctx context.Context, name string, chain Chain, wrapped string, allowBase bool) error {
	quote, err := chain.TokenBalance(ctx, m.quoteToken)
	if err != nil {
		return fmt.Errorf("%s quote balance: %w", name, err)
	}
	if quote.GreaterThanOrEqual(m.topUpUSD) {
		return chain.Swap(ctx, m.quoteToken, wrapped, m.topUpUSD)
	}
	if !allowBase {
		return fmt.Errorf("%s has %s quote, need %s for gas top-up", name, quote, m.topUpUSD)
	}
	price, err := m.prices.MarkPrice(ctx, m.asset)
	if err != nil {
		return fmt.Errorf("price base for gas top-up: %w", err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("mark price %s not positive", price)
	}
	baseAmount := num.RoundDown(m.topUpUSD.Div(price), swapPrecision)
	base, err := chain.TokenBalance(ctx, m.baseToken)
	if err != nil {
		return fmt.Errorf("%s base balance: %w", name, err)
	}
	if base.LessThan(baseAmount) {
		return fmt.Errorf("%s has no funds for gas top-up", name)
	}
	return chain.Swap(ctx, m.baseToken, wrapped, baseAmount)
}
