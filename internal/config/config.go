package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Venue     VenueConfig     `yaml:"venue"`
	Chain     ChainConfig     `yaml:"chain"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Gas       GasConfig       `yaml:"gas"`
	State     StateConfig     `yaml:"state"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type VenueConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MinDepositUSD  float64       `yaml:"min_deposit_usd"`
	DepositAddress string        `yaml:"deposit_address"`
}

type ChainConfig struct {
	QuoteAPIURL string       `yaml:"quote_api_url"`
	QuoteToken  string       `yaml:"quote_token"`
	Spot        LedgerConfig `yaml:"spot"`
	Settlement  LedgerConfig `yaml:"settlement"`
}

// LedgerConfig describes one EVM chain the strategy executes on.
type LedgerConfig struct {
	RPCURL        string            `yaml:"rpc_url"`
	ChainID       int64             `yaml:"chain_id"`
	Tokens        map[string]string `yaml:"tokens"`
	WrappedNative string            `yaml:"wrapped_native"`
}

type BridgeConfig struct {
	APIURL       string        `yaml:"api_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxFillWait  time.Duration `yaml:"max_fill_wait"`
	MinBridgeUSD float64       `yaml:"min_bridge_usd"`
}

type StrategyConfig struct {
	Asset            string        `yaml:"asset"`
	TargetLeverage   float64       `yaml:"target_leverage"`
	LeverageBuffer   float64       `yaml:"leverage_buffer"`
	LookbackDays     int           `yaml:"lookback_days"`
	MinSamples       int           `yaml:"min_samples"`
	FailOpenOnSparse bool          `yaml:"fail_open_on_sparse"`
	FailOpenOnError  bool          `yaml:"fail_open_on_error"`
	RebalancePeriod  time.Duration `yaml:"rebalance_period"`
	MonitorPeriod    time.Duration `yaml:"monitor_period"`
	ErrorCooldown    time.Duration `yaml:"error_cooldown"`
	MinSwapUSD       float64       `yaml:"min_swap_usd"`
	MinTransitUSD    float64       `yaml:"min_transit_usd"`
	SwapPrecision    int32         `yaml:"swap_precision"`
}

type GasConfig struct {
	Enabled          bool    `yaml:"enabled"`
	MinNativeBalance float64 `yaml:"min_native_balance"`
	TopUpUSD         float64 `yaml:"top_up_usd"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Venue.WSURL == "" {
		cfg.Venue.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Venue.Timeout == 0 {
		cfg.Venue.Timeout = 10 * time.Second
	}
	if cfg.Venue.ReconnectDelay == 0 {
		cfg.Venue.ReconnectDelay = 3 * time.Second
	}
	if cfg.Venue.PingInterval == 0 {
		cfg.Venue.PingInterval = 30 * time.Second
	}
	if cfg.Venue.MinDepositUSD == 0 {
		cfg.Venue.MinDepositUSD = 5
	}
	if cfg.Venue.DepositAddress == "" {
		cfg.Venue.DepositAddress = "0x2Df1c51E09aECF9cacB7bc98cB1742757f163dF7"
	}
	if cfg.Chain.QuoteToken == "" {
		cfg.Chain.QuoteToken = "USDC"
	}
	if cfg.Bridge.PollInterval == 0 {
		cfg.Bridge.PollInterval = 2 * time.Second
	}
	if cfg.Bridge.MaxFillWait == 0 {
		cfg.Bridge.MaxFillWait = 20 * time.Minute
	}
	if cfg.Bridge.MinBridgeUSD == 0 {
		cfg.Bridge.MinBridgeUSD = 1
	}
	if cfg.Strategy.TargetLeverage == 0 {
		cfg.Strategy.TargetLeverage = 3
	}
	if cfg.Strategy.LeverageBuffer == 0 {
		cfg.Strategy.LeverageBuffer = 0.5
	}
	if cfg.Strategy.LookbackDays == 0 {
		cfg.Strategy.LookbackDays = 7
	}
	if cfg.Strategy.MinSamples == 0 {
		cfg.Strategy.MinSamples = 10
		cfg.Strategy.FailOpenOnSparse = true
		cfg.Strategy.FailOpenOnError = true
	}
	if cfg.Strategy.RebalancePeriod == 0 {
		cfg.Strategy.RebalancePeriod = 10 * time.Minute
	}
	if cfg.Strategy.MonitorPeriod == 0 {
		cfg.Strategy.MonitorPeriod = time.Minute
	}
	if cfg.Strategy.ErrorCooldown == 0 {
		cfg.Strategy.ErrorCooldown = time.Minute
	}
	if cfg.Strategy.MinSwapUSD == 0 {
		cfg.Strategy.MinSwapUSD = 1
	}
	if cfg.Strategy.MinTransitUSD == 0 {
		cfg.Strategy.MinTransitUSD = 1
	}
	if cfg.Strategy.SwapPrecision == 0 {
		cfg.Strategy.SwapPrecision = 6
	}
	if cfg.Gas.MinNativeBalance == 0 {
		cfg.Gas.MinNativeBalance = 0.002
	}
	if cfg.Gas.TopUpUSD == 0 {
		cfg.Gas.TopUpUSD = 10
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/xchain-basis-bot.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
}

func validate(cfg *Config) error {
	if cfg.Strategy.Asset == "" {
		return errors.New("strategy.asset is required")
	}
	if cfg.Strategy.TargetLeverage <= 0 {
		return errors.New("strategy.target_leverage must be > 0")
	}
	if cfg.Strategy.LeverageBuffer < 0 {
		return errors.New("strategy.leverage_buffer must be >= 0")
	}
	if cfg.Strategy.SwapPrecision < 0 {
		return errors.New("strategy.swap_precision must be >= 0")
	}
	if len(cfg.Chain.Spot.Tokens) > 0 {
		if _, ok := cfg.Chain.Spot.Tokens[cfg.Strategy.Asset]; !ok {
			return fmt.Errorf("chain.spot.tokens missing entry for %s", cfg.Strategy.Asset)
		}
		if _, ok := cfg.Chain.Spot.Tokens[cfg.Chain.QuoteToken]; !ok {
			return fmt.Errorf("chain.spot.tokens missing entry for %s", cfg.Chain.QuoteToken)
		}
	}
	if len(cfg.Chain.Settlement.Tokens) > 0 {
		if _, ok := cfg.Chain.Settlement.Tokens[cfg.Chain.QuoteToken]; !ok {
			return fmt.Errorf("chain.settlement.tokens missing entry for %s", cfg.Chain.QuoteToken)
		}
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
