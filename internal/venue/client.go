// Package venue is the perp venue client: authoritative account reads over
// the info endpoint, a websocket mid-price cache, and signed exchange actions
// for position adjustment, withdrawal, and deposit.
package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xchain-basis-bot/internal/config"
	"xchain-basis-bot/internal/num"
	"xchain-basis-bot/internal/venue/ws"
)

const (
	// Orders below the venue's notional floor are rejected; adjustments
	// under it are treated as already at target.
	minOrderNotionalUSD = 10

	orderSlippage  = "0.005"
	midMaxAge      = 10 * time.Second
	adjustAttempts = 3
)

// TokenSender submits ERC20 transfers on the settlement chain. Deposits to
// the venue are plain transfers to its bridge contract.
type TokenSender interface {
	Transfer(ctx context.Context, token string, to common.Address, amount decimal.Decimal) (string, error)
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type Client struct {
	rest   *restClient
	signer *Signer
	stream *ws.Client
	log    *zap.Logger

	settlement  TokenSender
	quoteToken  string
	depositAddr common.Address
	minDeposit  decimal.Decimal
	slippage    decimal.Decimal

	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	persistMu     sync.Mutex
	persistWarned atomic.Bool

	mu     sync.RWMutex
	assets map[string]assetInfo
	mids   map[string]decimal.Decimal
	midsAt time.Time
}

func New(cfg config.VenueConfig, privateKeyHex, quoteToken string, settlement TokenSender, log *zap.Logger) (*Client, error) {
	isMainnet := !strings.Contains(cfg.BaseURL, "testnet")
	signer, err := NewSigner(privateKeyHex, isMainnet)
	if err != nil {
		return nil, fmt.Errorf("venue signer: %w", err)
	}
	slippage, err := decimal.NewFromString(orderSlippage)
	if err != nil {
		return nil, err
	}
	return &Client{
		rest:        newRestClient(cfg.BaseURL, cfg.Timeout),
		signer:      signer,
		stream:      ws.New(cfg.WSURL, cfg.ReconnectDelay, cfg.PingInterval, log),
		log:         log,
		settlement:  settlement,
		quoteToken:  quoteToken,
		depositAddr: common.HexToAddress(cfg.DepositAddress),
		minDeposit:  decimal.NewFromFloat(cfg.MinDepositUSD),
		slippage:    slippage,
		mids:        make(map[string]decimal.Decimal),
	}, nil
}

// Connect loads the perp universe. The asset index and size precision are
// needed before any order can be built.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.rest.info(ctx, infoRequest{Type: "meta"})
	if err != nil {
		return fmt.Errorf("fetch venue meta: %w", err)
	}
	assets, err := parseMeta(resp)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.assets = assets
	c.mu.Unlock()
	return nil
}

// RunStream feeds the mid-price cache until the context ends. It is optional;
// MarkPrice falls back to the info endpoint when the cache is stale.
func (c *Client) RunStream(ctx context.Context) error {
	c.stream.Subscribe(map[string]any{
		"method":       "subscribe",
		"subscription": map[string]any{"type": "allMids"},
	})
	return c.stream.Run(ctx, c.handleStreamMessage)
}

func (c *Client) handleStreamMessage(raw json.RawMessage) {
	var msg struct {
		Channel string `json:"channel"`
		Data    struct {
			Mids map[string]string `json:"mids"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Channel != "allMids" {
		return
	}
	mids := make(map[string]decimal.Decimal, len(msg.Data.Mids))
	for asset, price := range msg.Data.Mids {
		mid, err := decimal.NewFromString(price)
		if err != nil {
			continue
		}
		mids[asset] = mid
	}
	if len(mids) == 0 {
		return
	}
	c.mu.Lock()
	c.mids = mids
	c.midsAt = time.Now()
	c.mu.Unlock()
}

func (c *Client) Close() {
	c.stream.Close()
	c.rest.close()
}

func (c *Client) Wallet() common.Address {
	return c.signer.Address()
}

// AccountValue returns total perp account equity in USD.
func (c *Client) AccountValue(ctx context.Context) (decimal.Decimal, error) {
	resp, err := c.clearinghouseState(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return parseAccountValue(resp)
}

// PositionSize returns the signed position size for the asset. Negative is
// short; a missing position is zero.
func (c *Client) PositionSize(ctx context.Context, asset string) (decimal.Decimal, error) {
	resp, err := c.clearinghouseState(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return parsePositionSize(resp, asset)
}

// MarkPrice serves from the stream cache when fresh and falls back to the
// info endpoint otherwise.
func (c *Client) MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	c.mu.RLock()
	mid, ok := c.mids[asset]
	fresh := time.Since(c.midsAt) < midMaxAge
	c.mu.RUnlock()
	if ok && fresh {
		return mid, nil
	}
	resp, err := c.rest.info(ctx, infoRequest{Type: "allMids"})
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch mids: %w", err)
	}
	return parseMid(resp, asset)
}

// FundingRate returns the current hourly funding rate for the asset.
func (c *Client) FundingRate(ctx context.Context, asset string) (decimal.Decimal, error) {
	resp, err := c.rest.infoAny(ctx, infoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch asset contexts: %w", err)
	}
	return parseFundingRate(resp, asset)
}

// FundingHistory returns hourly funding rates over the lookback window,
// oldest first.
func (c *Client) FundingHistory(ctx context.Context, asset string, days int) ([]decimal.Decimal, error) {
	start := time.Now().AddDate(0, 0, -days).UnixMilli()
	resp, err := c.rest.infoAny(ctx, infoRequest{Type: "fundingHistory", Coin: asset, StartTime: start})
	if err != nil {
		return nil, fmt.Errorf("fetch funding history: %w", err)
	}
	return parseFundingHistory(resp)
}

func (c *Client) clearinghouseState(ctx context.Context) (map[string]any, error) {
	resp, err := c.rest.info(ctx, infoRequest{
		Type: "clearinghouseState",
		User: c.signer.Address().Hex(),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch clearinghouse state: %w", err)
	}
	return resp, nil
}

// AdjustPosition moves the perp position to the target signed size with an
// aggressive immediate-or-cancel order. It is idempotent: a position already
// within the venue's minimum order notional of the target is left alone.
func (c *Client) AdjustPosition(ctx context.Context, asset string, target decimal.Decimal) error {
	info, err := c.assetInfo(asset)
	if err != nil {
		return err
	}
	current, err := c.PositionSize(ctx, asset)
	if err != nil {
		return err
	}
	mark, err := c.MarkPrice(ctx, asset)
	if err != nil {
		return err
	}
	delta := target.Sub(current)
	size := num.RoundDown(delta.Abs(), info.szDecimals)
	if size.IsZero() || size.Mul(mark).LessThan(decimal.NewFromInt(minOrderNotionalUSD)) {
		c.log.Debug("position already at target",
			zap.String("asset", asset),
			zap.String("current", current.String()),
			zap.String("target", target.String()))
		return nil
	}
	isBuy := delta.IsPositive()
	price := aggressivePrice(mark, isBuy, c.slippage)
	order, err := limitOrderWire(info.index, isBuy, size, price, false, TifIoc)
	if err != nil {
		return err
	}

	backoff := time.Second
	for attempt := 0; attempt < adjustAttempts; attempt++ {
		err = c.placeOrder(ctx, order)
		if err == nil {
			c.log.Info("perp position adjusted",
				zap.String("asset", asset),
				zap.Bool("is_buy", isBuy),
				zap.String("size", size.String()),
				zap.String("price", price.String()),
				zap.String("target", target.String()))
			return nil
		}
		if attempt == adjustAttempts-1 {
			break
		}
		c.log.Warn("order attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("adjust position failed after %d attempts: %w", adjustAttempts, err)
}

func (c *Client) placeOrder(ctx context.Context, order OrderWire) error {
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	nonce := c.nextNonce()
	sig, err := c.signer.SignOrderAction(action, nonce)
	if err != nil {
		return err
	}
	resp, err := c.rest.exchange(ctx, SignedAction{Action: action, Nonce: nonce, Signature: sig})
	if err != nil {
		return err
	}
	return orderStatusError(resp)
}

// WithdrawToSettlement sends USD collateral from the venue to the wallet on
// the settlement chain. Arrival takes a few minutes; the caller sees the
// funds as transit balance until then.
func (c *Client) WithdrawToSettlement(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("withdraw amount must be positive, got %s", amount)
	}
	nonce := c.nextNonce()
	action := WithdrawAction{
		Type:        "withdraw3",
		Destination: strings.ToLower(c.signer.Address().Hex()),
		Amount:      amount.String(),
		Time:        nonce,
	}
	sig, err := c.signer.SignWithdraw(&action)
	if err != nil {
		return err
	}
	resp, err := c.rest.exchange(ctx, SignedAction{Action: action, Nonce: nonce, Signature: sig})
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	if status, _ := resp["status"].(string); status != "ok" {
		return fmt.Errorf("withdraw rejected: %v", resp["response"])
	}
	c.log.Info("venue withdrawal submitted", zap.String("amount", amount.String()))
	return nil
}

// DepositFromSettlement transfers quote tokens to the venue's bridge
// contract. Deposits under the venue minimum are forfeited by the bridge, so
// they fail fast here instead.
func (c *Client) DepositFromSettlement(ctx context.Context, amount decimal.Decimal) error {
	if amount.LessThan(c.minDeposit) {
		return fmt.Errorf("deposit %s below venue minimum %s", amount, c.minDeposit)
	}
	txHash, err := c.settlement.Transfer(ctx, c.quoteToken, c.depositAddr, amount)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	c.log.Info("venue deposit sent",
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))
	return nil
}

func (c *Client) assetInfo(asset string) (assetInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.assets == nil {
		return assetInfo{}, errors.New("venue client not connected")
	}
	info, ok := c.assets[asset]
	if !ok {
		return assetInfo{}, fmt.Errorf("unknown asset %q", asset)
	}
	return info, nil
}

// InitNonceStore seeds the nonce counter from durable state so restarts never
// reuse a nonce the venue has already seen.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	key := "venue:nonce:" + strings.ToLower(c.signer.Address().Hex())
	seed := uint64(time.Now().UnixMilli())
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := c.lastNonce.Load(); current > seed {
		seed = current
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		if c.persistWarned.CompareAndSwap(false, true) {
			c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
		}
		return
	}
	c.lastPersisted.Store(nonce)
	c.persistWarned.Store(false)
}
