// Package bridge moves stable collateral between the spot and settlement
// chains through an intent-based bridge relay. The relay API quotes a
// deposit, the deposit transaction is sent on the origin chain, and the
// transfer is confirmed by polling the relay's fill-status endpoint.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Direction of a transfer relative to the strategy's two ends.
type Direction string

const (
	// ToSpot bridges from the settlement chain to the spot chain.
	ToSpot Direction = "to_spot"
	// ToSettlement bridges from the spot chain to the settlement chain.
	ToSettlement Direction = "to_settlement"
)

// ErrFillTimeout marks a transfer whose destination fill was not observed
// within the configured wait. The funds are not lost; they surface as
// transit balance on a later snapshot and are drained then.
var ErrFillTimeout = errors.New("bridge fill confirmation timed out")

const maxAttempts = 3

// CallSender submits a prepared contract call on one chain.
type CallSender interface {
	SendCall(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (string, error)
	EnsureAllowance(ctx context.Context, token string, spender common.Address, amount decimal.Decimal) error
}

type Client struct {
	apiURL string
	http   *http.Client

	spot              CallSender
	settlement        CallSender
	spotChainID       int64
	settlementChainID int64

	pollInterval time.Duration
	maxFillWait  time.Duration

	log *zap.Logger
}

func New(apiURL string, spot, settlement CallSender, spotChainID, settlementChainID int64, pollInterval, maxFillWait time.Duration, log *zap.Logger) *Client {
	return &Client{
		apiURL:            strings.TrimRight(apiURL, "/"),
		http:              &http.Client{Timeout: 15 * time.Second},
		spot:              spot,
		settlement:        settlement,
		spotChainID:       spotChainID,
		settlementChainID: settlementChainID,
		pollInterval:      pollInterval,
		maxFillWait:       maxFillWait,
		log:               log,
	}
}

type depositQuote struct {
	SpokePool    string `json:"spokePool"`
	Calldata     string `json:"depositCalldata"`
	OutputAmount string `json:"outputAmount"`
	FillDeadline int64  `json:"fillDeadline"`
}

type depositStatus struct {
	Status   string `json:"status"`
	FillTx   string `json:"fillTx"`
	DestTime int64  `json:"destinationTime"`
}

// Bridge blocks until the transfer is confirmed filled on the destination
// chain or fails. The deposit submission retries with doubling backoff; the
// status poll runs at a fixed interval up to the configured maximum wait.
func (c *Client) Bridge(ctx context.Context, dir Direction, token string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("bridge amount must be positive, got %s", amount)
	}
	var (
		sender           CallSender
		originID, destID int64
	)
	switch dir {
	case ToSpot:
		sender, originID, destID = c.settlement, c.settlementChainID, c.spotChainID
	case ToSettlement:
		sender, originID, destID = c.spot, c.spotChainID, c.settlementChainID
	default:
		return fmt.Errorf("unknown bridge direction %q", dir)
	}

	quote, err := c.quote(ctx, token, amount, originID, destID)
	if err != nil {
		return fmt.Errorf("bridge quote: %w", err)
	}
	spokePool := common.HexToAddress(quote.SpokePool)
	calldata, err := hexutil.Decode(quote.Calldata)
	if err != nil {
		return fmt.Errorf("bridge quote calldata: %w", err)
	}
	if err := sender.EnsureAllowance(ctx, token, spokePool, amount); err != nil {
		return fmt.Errorf("bridge allowance: %w", err)
	}

	var txHash string
	backoff := time.Second
	for attempt := 0; attempt < maxAttempts; attempt++ {
		txHash, err = sender.SendCall(ctx, spokePool, calldata, nil)
		if err == nil {
			break
		}
		if attempt == maxAttempts-1 {
			return fmt.Errorf("bridge deposit failed after %d attempts: %w", maxAttempts, err)
		}
		c.log.Warn("bridge deposit attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	c.log.Info("bridge deposit submitted",
		zap.String("direction", string(dir)),
		zap.String("token", token),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))

	return c.waitForFill(ctx, originID, txHash)
}

func (c *Client) waitForFill(ctx context.Context, originID int64, txHash string) error {
	deadline := time.NewTimer(c.maxFillWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.depositStatus(ctx, originID, txHash)
		if err != nil {
			c.log.Warn("bridge status poll failed", zap.Error(err))
		} else if strings.EqualFold(status.Status, "filled") {
			c.log.Info("bridge transfer filled",
				zap.String("tx_hash", txHash),
				zap.String("fill_tx", status.FillTx))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w after %s (deposit %s)", ErrFillTimeout, c.maxFillWait, txHash)
		case <-ticker.C:
		}
	}
}

func (c *Client) quote(ctx context.Context, token string, amount decimal.Decimal, originID, destID int64) (*depositQuote, error) {
	params := url.Values{}
	params.Set("token", token)
	params.Set("amount", amount.String())
	params.Set("originChainId", fmt.Sprintf("%d", originID))
	params.Set("destinationChainId", fmt.Sprintf("%d", destID))
	var quote depositQuote
	if err := c.getJSON(ctx, c.apiURL+"/suggested-fees?"+params.Encode(), &quote); err != nil {
		return nil, err
	}
	if quote.SpokePool == "" || quote.Calldata == "" {
		return nil, errors.New("bridge quote missing spoke pool or calldata")
	}
	return &quote, nil
}

func (c *Client) depositStatus(ctx context.Context, originID int64, txHash string) (*depositStatus, error) {
	params := url.Values{}
	params.Set("originChainId", fmt.Sprintf("%d", originID))
	params.Set("depositTxHash", txHash)
	var status depositStatus
	if err := c.getJSON(ctx, c.apiURL+"/deposit/status?"+params.Encode(), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Close releases the relay HTTP session. The client is safe to reuse; the
// next request opens a fresh connection.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
