package gas

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type chainSwap struct {
	from, to string
	amount   decimal.Decimal
}

type fakeChain struct {
	native    decimal.Decimal
	balances  map[string]decimal.Decimal
	swaps     []chainSwap
	unwrapped []decimal.Decimal

	nativeErr error
	swapErr   error
}

func (f *fakeChain) NativeBalance(ctx context.Context) (decimal.Decimal, error) {
	return f.native, f.nativeErr
}

func (f *fakeChain) TokenBalance(ctx context.Context, token string) (decimal.Decimal, error) {
	return f.balances[token], nil
}

func (f *fakeChain) Swap(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if f.swapErr != nil {
		return f.swapErr
	}
	f.swaps = append(f.swaps, chainSwap{from: from, to: to, amount: amount})
	// Pretend the swap filled one-for-ten into wrapped native.
	f.balances[to] = f.balances[to].Add(amount.Div(d("10")))
	return nil
}

func (f *fakeChain) UnwrapNative(ctx context.Context, amount decimal.Decimal) error {
	f.unwrapped = append(f.unwrapped, amount)
	f.native = f.native.Add(amount)
	f.balances["WNATIVE"] = f.balances["WNATIVE"].Sub(amount)
	return nil
}

type fakePrices struct {
	price decimal.Decimal
	err   error
}

func (f fakePrices) MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.price, f.err
}

func newFakeChain(native string) *fakeChain {
	return &fakeChain{
		native:   d(native),
		balances: map[string]decimal.Decimal{},
	}
}

func newTestManager(spot, settlement *fakeChain, prices fakePrices) *Manager {
	return New(spot, settlement, prices, "ETH", "USDC", "ETH", "WNATIVE", "WNATIVE", 0.01, 10, zap.NewNop())
}

func TestEnsureGasSkipsFundedWallets(t *testing.T) {
	spot := newFakeChain("0.5")
	settlement := newFakeChain("0.02")
	m := newTestManager(spot, settlement, fakePrices{price: d("2000")})

	if err := m.EnsureGas(context.Background()); err != nil {
		t.Fatalf("EnsureGas: %v", err)
	}
	if len(spot.swaps) != 0 || len(settlement.swaps) != 0 {
		t.Fatal("no swaps expected when both wallets are above the floor")
	}
}

func TestEnsureGasTopsUpFromQuote(t *testing.T) {
	spot := newFakeChain("0.001")
	spot.balances["USDC"] = d("100")
	settlement := newFakeChain("0.5")
	m := newTestManager(spot, settlement, fakePrices{price: d("2000")})

	if err := m.EnsureGas(context.Background()); err != nil {
		t.Fatalf("EnsureGas: %v", err)
	}
	if len(spot.swaps) != 1 {
		t.Fatalf("swaps = %v, want one quote->wrapped swap", spot.swaps)
	}
	s := spot.swaps[0]
	if s.from != "USDC" || s.to != "WNATIVE" || !s.amount.Equal(d("10")) {
		t.Fatalf("swap = %+v, want 10 USDC->WNATIVE", s)
	}
	if len(spot.unwrapped) != 1 || !spot.unwrapped[0].Equal(d("1")) {
		t.Fatalf("unwrapped = %v, want the full wrapped balance", spot.unwrapped)
	}
}

func TestEnsureGasFallsBackToBaseOnSpot(t *testing.T) {
	spot := newFakeChain("0")
	spot.balances["USDC"] = d("3")
	spot.balances["ETH"] = d("0.2")
	settlement := newFakeChain("0.5")
	m := newTestManager(spot, settlement, fakePrices{price: d("2000")})

	if err := m.EnsureGas(context.Background()); err != nil {
		t.Fatalf("EnsureGas: %v", err)
	}
	if len(spot.swaps) != 1 {
		t.Fatalf("swaps = %v, want one base->wrapped swap", spot.swaps)
	}
	s := spot.swaps[0]
	if s.from != "ETH" || !s.amount.Equal(d("0.005")) {
		t.Fatalf("swap = %+v, want 0.005 ETH->WNATIVE", s)
	}
}

func TestEnsureGasSettlementHasNoBaseFallback(t *testing.T) {
	spot := newFakeChain("0.5")
	settlement := newFakeChain("0")
	settlement.balances["USDC"] = d("3")
	m := newTestManager(spot, settlement, fakePrices{price: d("2000")})

	err := m.EnsureGas(context.Background())
	if err == nil || !strings.Contains(err.Error(), "settlement") {
		t.Fatalf("err = %v, want settlement top-up failure", err)
	}
	if len(settlement.swaps) != 0 {
		t.Fatalf("swaps = %v, underfunded settlement must not swap base", settlement.swaps)
	}
}

func TestEnsureGasOneChainFailureDoesNotStopOther(t *testing.T) {
	spot := newFakeChain("0")
	spot.nativeErr = errors.New("rpc down")
	settlement := newFakeChain("0.001")
	settlement.balances["USDC"] = d("100")
	m := newTestManager(spot, settlement, fakePrices{price: d("2000")})

	err := m.EnsureGas(context.Background())
	if err == nil || !strings.Contains(err.Error(), "spot native balance") {
		t.Fatalf("err = %v, want spot balance failure surfaced", err)
	}
	if len(settlement.swaps) != 1 {
		t.Fatalf("settlement swaps = %v, settlement top-up must still run", settlement.swaps)
	}
}
