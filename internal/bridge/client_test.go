package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type sentCall struct {
	to    common.Address
	value *big.Int
}

type fakeSender struct {
	calls      []sentCall
	allowances []common.Address

	sendErr      error
	failFirstN   int
	allowanceErr error
}

func (f *fakeSender) SendCall(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (string, error) {
	if f.failFirstN > 0 {
		f.failFirstN--
		return "", errors.New("nonce too low")
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.calls = append(f.calls, sentCall{to: to, value: value})
	return "0xdeadbeef", nil
}

func (f *fakeSender) EnsureAllowance(ctx context.Context, token string, spender common.Address, amount decimal.Decimal) error {
	if f.allowanceErr != nil {
		return f.allowanceErr
	}
	f.allowances = append(f.allowances, spender)
	return nil
}

const testSpokePool = "0x1111111111111111111111111111111111111111"

// relayServer serves a fixed quote and reports "pending" for the first
// pendingPolls status calls, then "filled".
func relayServer(t *testing.T, pendingPolls int32) *httptest.Server {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/suggested-fees", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("originChainId") == "" {
			t.Error("quote request missing originChainId")
		}
		json.NewEncoder(w).Encode(depositQuote{
			SpokePool:    testSpokePool,
			Calldata:     "0xabcdef",
			OutputAmount: "99",
		})
	})
	mux.HandleFunc("/deposit/status", func(w http.ResponseWriter, r *http.Request) {
		status := "filled"
		if atomic.AddInt32(&polls, 1) <= pendingPolls {
			status = "pending"
		}
		json.NewEncoder(w).Encode(depositStatus{Status: status, FillTx: "0xfill"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(apiURL string, spot, settlement *fakeSender, maxWait time.Duration) *Client {
	return New(apiURL, spot, settlement, 42161, 1, time.Millisecond, maxWait, zap.NewNop())
}

func TestBridgeToSettlementFills(t *testing.T) {
	srv := relayServer(t, 2)
	spot := &fakeSender{}
	settlement := &fakeSender{}
	c := newTestClient(srv.URL, spot, settlement, time.Second)

	err := c.Bridge(context.Background(), ToSettlement, "USDC", decimal.RequireFromString("12.5"))
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if len(spot.calls) != 1 {
		t.Fatalf("spot calls = %d, want the deposit on the origin chain", len(spot.calls))
	}
	if spot.calls[0].to != common.HexToAddress(testSpokePool) {
		t.Fatalf("deposit sent to %s, want spoke pool", spot.calls[0].to)
	}
	if len(spot.allowances) != 1 || spot.allowances[0] != common.HexToAddress(testSpokePool) {
		t.Fatalf("allowances = %v, want spoke pool approval", spot.allowances)
	}
	if len(settlement.calls) != 0 {
		t.Fatal("destination chain must not send anything")
	}
}

func TestBridgeToSpotUsesSettlementSender(t *testing.T) {
	srv := relayServer(t, 0)
	spot := &fakeSender{}
	settlement := &fakeSender{}
	c := newTestClient(srv.URL, spot, settlement, time.Second)

	if err := c.Bridge(context.Background(), ToSpot, "USDC", decimal.RequireFromString("5")); err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if len(settlement.calls) != 1 || len(spot.calls) != 0 {
		t.Fatalf("calls spot=%d settlement=%d, deposit belongs on the settlement chain",
			len(spot.calls), len(settlement.calls))
	}
}

func TestBridgeRetriesDeposit(t *testing.T) {
	srv := relayServer(t, 0)
	spot := &fakeSender{failFirstN: 1}
	c := newTestClient(srv.URL, spot, &fakeSender{}, time.Second)

	if err := c.Bridge(context.Background(), ToSettlement, "USDC", decimal.RequireFromString("5")); err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if len(spot.calls) != 1 {
		t.Fatalf("calls = %d, want one successful deposit after retries", len(spot.calls))
	}
}

func TestBridgeFillTimeout(t *testing.T) {
	srv := relayServer(t, 1000)
	c := newTestClient(srv.URL, &fakeSender{}, &fakeSender{}, 20*time.Millisecond)

	err := c.Bridge(context.Background(), ToSettlement, "USDC", decimal.RequireFromString("5"))
	if !errors.Is(err, ErrFillTimeout) {
		t.Fatalf("err = %v, want ErrFillTimeout", err)
	}
}

func TestBridgeRejectsNonPositiveAmount(t *testing.T) {
	c := newTestClient("http://unused", &fakeSender{}, &fakeSender{}, time.Second)
	if err := c.Bridge(context.Background(), ToSettlement, "USDC", decimal.Zero); err == nil {
		t.Fatal("zero amount must be rejected before any relay call")
	}
}

func TestBridgeUnknownDirection(t *testing.T) {
	c := newTestClient("http://unused", &fakeSender{}, &fakeSender{}, time.Second)
	err := c.Bridge(context.Background(), Direction("sideways"), "USDC", decimal.RequireFromString("5"))
	if err == nil {
		t.Fatal("unknown direction must be rejected")
	}
}
