// Package chain is the on-chain execution client for one EVM chain: ERC20
// reads, router swaps via the pathfinder quote API, native wrap/unwrap, and
// raw contract calls on behalf of the bridge client.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const wethABI = `[
	{"constant":false,"inputs":[],"name":"deposit","outputs":[],"payable":true,"type":"function"},
	{"constant":false,"inputs":[{"name":"wad","type":"uint256"}],"name":"withdraw","outputs":[],"type":"function"}
]`

const (
	receiptPollInterval = 2 * time.Second
	receiptTimeout      = 2 * time.Minute
	nativeDecimals      = 18
)

type Client struct {
	rpcURL      string
	chainID     *big.Int
	quoteAPIURL string

	key    *ecdsa.PrivateKey
	wallet common.Address

	tokens  map[string]common.Address
	wrapped common.Address

	erc20 abi.ABI
	weth  abi.ABI

	http *http.Client
	log  *zap.Logger

	mu       sync.Mutex
	ec       *ethclient.Client
	decimals map[common.Address]int32
}

// New only captures configuration; Connect performs the I/O.
func New(rpcURL, quoteAPIURL string, chainID int64, privateKeyHex string, tokens map[string]string, wrappedNative string, log *zap.Logger) (*Client, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("chain private key is required")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	erc20Parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}
	wethParsed, err := abi.JSON(strings.NewReader(wethABI))
	if err != nil {
		return nil, err
	}
	addrs := make(map[string]common.Address, len(tokens))
	for sym, addr := range tokens {
		addrs[sym] = common.HexToAddress(addr)
	}
	return &Client{
		rpcURL:      rpcURL,
		chainID:     big.NewInt(chainID),
		quoteAPIURL: strings.TrimRight(quoteAPIURL, "/"),
		key:         key,
		wallet:      crypto.PubkeyToAddress(key.PublicKey),
		tokens:      addrs,
		wrapped:     common.HexToAddress(wrappedNative),
		erc20:       erc20Parsed,
		weth:        wethParsed,
		http:        &http.Client{Timeout: 15 * time.Second},
		log:         log,
		decimals:    make(map[common.Address]int32),
	}, nil
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ec != nil {
		return nil
	}
	ec, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.rpcURL, err)
	}
	c.ec = ec
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ec != nil {
		c.ec.Close()
		c.ec = nil
	}
	c.http.CloseIdleConnections()
}

func (c *Client) Wallet() common.Address {
	return c.wallet
}

func (c *Client) conn() (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ec == nil {
		return nil, errors.New("chain client not connected")
	}
	return c.ec, nil
}

func (c *Client) tokenAddress(token string) (common.Address, error) {
	if strings.HasPrefix(token, "0x") {
		return common.HexToAddress(token), nil
	}
	addr, ok := c.tokens[token]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown token %q", token)
	}
	return addr, nil
}

// TokenBalance returns the wallet's balance of an ERC20 token, scaled from
// base units by the token's on-chain decimals.
func (c *Client) TokenBalance(ctx context.Context, token string) (decimal.Decimal, error) {
	ec, err := c.conn()
	if err != nil {
		return decimal.Zero, err
	}
	addr, err := c.tokenAddress(token)
	if err != nil {
		return decimal.Zero, err
	}
	input, err := c.erc20.Pack("balanceOf", c.wallet)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf %s: %w", token, err)
	}
	raw := new(big.Int).SetBytes(out)
	dec, err := c.tokenDecimals(ctx, addr)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -dec), nil
}

func (c *Client) NativeBalance(ctx context.Context) (decimal.Decimal, error) {
	ec, err := c.conn()
	if err != nil {
		return decimal.Zero, err
	}
	raw, err := ec.BalanceAt(ctx, c.wallet, nil)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -nativeDecimals), nil
}

func (c *Client) tokenDecimals(ctx context.Context, addr common.Address) (int32, error) {
	c.mu.Lock()
	if dec, ok := c.decimals[addr]; ok {
		c.mu.Unlock()
		return dec, nil
	}
	ec := c.ec
	c.mu.Unlock()
	if ec == nil {
		return 0, errors.New("chain client not connected")
	}
	input, err := c.erc20.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals %s: %w", addr.Hex(), err)
	}
	dec := int32(new(big.Int).SetBytes(out).Int64())
	c.mu.Lock()
	c.decimals[addr] = dec
	c.mu.Unlock()
	return dec, nil
}

func (c *Client) toBaseUnits(ctx context.Context, addr common.Address, amount decimal.Decimal) (*big.Int, error) {
	dec, err := c.tokenDecimals(ctx, addr)
	if err != nil {
		return nil, err
	}
	return amount.Shift(dec).BigInt(), nil
}

type swapQuote struct {
	Router   string `json:"router"`
	Calldata string `json:"calldata"`
	MinOut   string `json:"minAmountOut"`
}

// Swap trades from one token to another through the pathfinder's router. The
// route and calldata come from the quote API; execution is a signed raw
// transaction against the returned router address.
func (c *Client) Swap(ctx context.Context, fromToken, toToken string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("swap amount must be positive, got %s", amount)
	}
	fromAddr, err := c.tokenAddress(fromToken)
	if err != nil {
		return err
	}
	toAddr, err := c.tokenAddress(toToken)
	if err != nil {
		return err
	}
	amountIn, err := c.toBaseUnits(ctx, fromAddr, amount)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("chainId", c.chainID.String())
	params.Set("tokenIn", fromAddr.Hex())
	params.Set("tokenOut", toAddr.Hex())
	params.Set("amountIn", amountIn.String())
	params.Set("recipient", c.wallet.Hex())
	var quote swapQuote
	if err := c.getJSON(ctx, c.quoteAPIURL+"/quote?"+params.Encode(), &quote); err != nil {
		return fmt.Errorf("swap quote: %w", err)
	}
	if quote.Router == "" || quote.Calldata == "" {
		return errors.New("swap quote missing router or calldata")
	}
	router := common.HexToAddress(quote.Router)
	calldata, err := hexutil.Decode(quote.Calldata)
	if err != nil {
		return fmt.Errorf("swap quote calldata: %w", err)
	}
	if err := c.EnsureAllowance(ctx, fromToken, router, amount); err != nil {
		return err
	}
	txHash, err := c.SendCall(ctx, router, calldata, nil)
	if err != nil {
		return fmt.Errorf("swap %s->%s: %w", fromToken, toToken, err)
	}
	c.log.Info("swap executed",
		zap.String("from", fromToken),
		zap.String("to", toToken),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))
	return nil
}

// WrapNative deposits native currency into the wrapped-native contract.
func (c *Client) WrapNative(ctx context.Context, amount decimal.Decimal) error {
	input, err := c.weth.Pack("deposit")
	if err != nil {
		return err
	}
	value := amount.Shift(nativeDecimals).BigInt()
	_, err = c.SendCall(ctx, c.wrapped, input, value)
	return err
}

// UnwrapNative withdraws wrapped native back to the native currency.
func (c *Client) UnwrapNative(ctx context.Context, amount decimal.Decimal) error {
	input, err := c.weth.Pack("withdraw", amount.Shift(nativeDecimals).BigInt())
	if err != nil {
		return err
	}
	_, err = c.SendCall(ctx, c.wrapped, input, nil)
	return err
}

// EnsureAllowance approves the spender when the current allowance is below
// the requested amount.
func (c *Client) EnsureAllowance(ctx context.Context, token string, spender common.Address, amount decimal.Decimal) error {
	ec, err := c.conn()
	if err != nil {
		return err
	}
	addr, err := c.tokenAddress(token)
	if err != nil {
		return err
	}
	needed, err := c.toBaseUnits(ctx, addr, amount)
	if err != nil {
		return err
	}
	input, err := c.erc20.Pack("allowance", c.wallet, spender)
	if err != nil {
		return err
	}
	out, err := ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return fmt.Errorf("allowance %s: %w", token, err)
	}
	current := new(big.Int).SetBytes(out)
	if current.Cmp(needed) >= 0 {
		return nil
	}
	approve, err := c.erc20.Pack("approve", spender, needed)
	if err != nil {
		return err
	}
	txHash, err := c.SendCall(ctx, addr, approve, nil)
	if err != nil {
		return fmt.Errorf("approve %s: %w", token, err)
	}
	c.log.Info("allowance approved",
		zap.String("token", token),
		zap.String("spender", spender.Hex()),
		zap.String("tx_hash", txHash))
	return nil
}

// Transfer sends an ERC20 token from the wallet to a recipient.
func (c *Client) Transfer(ctx context.Context, token string, to common.Address, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("transfer amount must be positive, got %s", amount)
	}
	addr, err := c.tokenAddress(token)
	if err != nil {
		return "", err
	}
	raw, err := c.toBaseUnits(ctx, addr, amount)
	if err != nil {
		return "", err
	}
	input, err := c.erc20.Pack("transfer", to, raw)
	if err != nil {
		return "", err
	}
	txHash, err := c.SendCall(ctx, addr, input, nil)
	if err != nil {
		return "", fmt.Errorf("transfer %s: %w", token, err)
	}
	c.log.Info("token transfer sent",
		zap.String("token", token),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", txHash))
	return txHash, nil
}

// SendCall signs and broadcasts a contract call, then blocks until the
// receipt confirms success.
func (c *Client) SendCall(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (string, error) {
	ec, err := c.conn()
	if err != nil {
		return "", err
	}
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := ec.PendingNonceAt(ctx, c.wallet)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := ec.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	msg := ethereum.CallMsg{From: c.wallet, To: &to, Value: value, Data: calldata}
	gas, err := ec.EstimateGas(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	tx := types.NewTransaction(nonce, to, value, gas, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", err
	}
	if err := ec.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	hash := signed.Hash()
	if err := c.waitMined(ctx, ec, hash); err != nil {
		return hash.Hex(), err
	}
	return hash.Hex(), nil
}

func (c *Client) waitMined(ctx context.Context, ec *ethclient.Client, hash common.Hash) error {
	deadline := time.NewTimer(receiptTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := ec.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("tx %s reverted", hash.Hex())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("tx %s not mined within %s", hash.Hex(), receiptTimeout)
		case <-ticker.C:
		}
	}
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
