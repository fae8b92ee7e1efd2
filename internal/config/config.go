// Package config defines the top-level configuration for the up/down trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Exit       ExitConfig       `toml:"exit"`
	Safety     SafetyConfig     `toml:"safety"`
	Feed       FeedConfig       `toml:"feed"`
	Executor   ExecutorConfig   `toml:"executor"`
	Settlement SettlementConfig `toml:"settlement"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey    string `toml:"private_key"`
	FunderAddress string `toml:"funder_address"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// SizingConfig is the seconds-remaining step function for entry size.
// Boundaries are strict: exactly 180s remaining falls into the Above120
// bucket, exactly 120s into the Below120 bucket.
type SizingConfig struct {
	Above180Sec float64 `toml:"above_180_sec"`
	Above120Sec float64 `toml:"above_120_sec"`
	Below120Sec float64 `toml:"below_120_sec"`
}

// StrategyConfig holds late-entry strategy parameters.
type StrategyConfig struct {
	Coins             []string     `toml:"coins"`
	EntryWindowSec    int          `toml:"entry_window_sec"`
	EntryFrequencySec int          `toml:"entry_frequency_sec"`
	MinConfidence     float64      `toml:"min_confidence"`
	PriceMax          float64      `toml:"price_max"`
	MaxSpread         float64      `toml:"max_spread"`
	Sizing            SizingConfig `toml:"sizing"`
}

// ExitConfig holds exit-rule parameters. StopLossUSD values are negative:
// a position exits when unrealized PnL falls to or below the threshold.
type ExitConfig struct {
	StopLossUSD        float64            `toml:"stop_loss_usd"`
	StopLossPerCoinUSD map[string]float64 `toml:"stop_loss_per_coin_usd"`
	FlipStopEnabled    bool               `toml:"flip_stop_enabled"`
}

// StopLossFor returns the stop-loss threshold for a coin, falling back to the
// default when no per-coin override exists.
func (e ExitConfig) StopLossFor(coin string) float64 {
	if v, ok := e.StopLossPerCoinUSD[strings.ToLower(coin)]; ok {
		return v
	}
	return e.StopLossUSD
}

// SafetyConfig holds the admission-control ceilings shared by all markets.
type SafetyConfig struct {
	DryRun                bool    `toml:"dry_run"`
	MaxOrderSizeUSD       float64 `toml:"max_order_size_usd"`
	MaxTotalInvestmentUSD float64 `toml:"max_total_investment_usd"`
	MaxOrdersPerMinute    int     `toml:"max_orders_per_minute"`
}

// FeedConfig holds streaming order-book feed parameters.
type FeedConfig struct {
	StaleAfter          duration `toml:"stale_after"`
	MaxQuoteAge         duration `toml:"max_quote_age"`
	ReconnectBackoffMax duration `toml:"reconnect_backoff_max"`
}

// ExecutorConfig holds order submission and retry parameters.
type ExecutorConfig struct {
	RequestTimeout  duration `toml:"request_timeout"`
	ExitMaxRetries  int      `toml:"exit_max_retries"`
	RetryBackoff    duration `toml:"retry_backoff"`
	RetryBackoffMax duration `toml:"retry_backoff_max"`
}

// SettlementConfig holds on-chain redemption parameters.
type SettlementConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	CTFAddress         string   `toml:"ctf_address"`
	USDCAddress        string   `toml:"usdc_address"`
	NegRiskAdapter     string   `toml:"neg_risk_adapter"`
	ScanInterval       duration `toml:"scan_interval"`
	MinRedeemContracts float64  `toml:"min_redeem_contracts"`
	GasLimitBump       int      `toml:"gas_limit_bump_pct"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Leave Addr empty to disable
// the event stream entirely.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	Stream     string `toml:"stream"`
	StreamMax  int64  `toml:"stream_max_len"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Strategy: StrategyConfig{
			Coins:             []string{"btc", "eth", "sol", "xrp"},
			EntryWindowSec:    240,
			EntryFrequencySec: 7,
			MinConfidence:     0.30,
			PriceMax:          0.92,
			MaxSpread:         1.05,
			Sizing: SizingConfig{
				Above180Sec: 8,
				Above120Sec: 10,
				Below120Sec: 12,
			},
		},
		Exit: ExitConfig{
			StopLossUSD:        -12,
			StopLossPerCoinUSD: map[string]float64{},
			FlipStopEnabled:    true,
		},
		Safety: SafetyConfig{
			DryRun:                true,
			MaxOrderSizeUSD:       150,
			MaxTotalInvestmentUSD: 300,
			MaxOrdersPerMinute:    30,
		},
		Feed: FeedConfig{
			StaleAfter:          duration{20 * time.Second},
			MaxQuoteAge:         duration{10 * time.Second},
			ReconnectBackoffMax: duration{60 * time.Second},
		},
		Executor: ExecutorConfig{
			RequestTimeout:  duration{10 * time.Second},
			ExitMaxRetries:  8,
			RetryBackoff:    duration{2 * time.Second},
			RetryBackoffMax: duration{30 * time.Second},
		},
		Settlement: SettlementConfig{
			RPCURL:             "https://polygon-rpc.com",
			CTFAddress:         "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
			USDCAddress:        "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
			NegRiskAdapter:     "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
			ScanInterval:       duration{5 * time.Minute},
			MinRedeemContracts: 0.1,
			GasLimitBump:       20,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updownbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			Stream:     "updownbot:events",
			StreamMax:  10_000,
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "order_rejected", "position_opened", "position_closed", "emergency_stop", "redeemed"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"redeem": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validCoins enumerates the tradable up/down series.
var validCoins = map[string]bool{
	"btc": true,
	"eth": true,
	"sol": true,
	"xrp": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, redeem)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: live trading and redemption both need a signing key. Dry-run
	// trading can proceed without one.
	needsWallet := c.Mode == "redeem" || (c.Mode == "trade" && !c.Safety.DryRun)
	if needsWallet && c.Wallet.PrivateKey == "" {
		errs = append(errs, "wallet: private_key must be set for mode "+c.Mode+" with dry_run off")
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Strategy
	if len(c.Strategy.Coins) == 0 {
		errs = append(errs, "strategy: at least one coin must be enabled")
	}
	for _, coin := range c.Strategy.Coins {
		if !validCoins[strings.ToLower(coin)] {
			errs = append(errs, fmt.Sprintf("strategy: unknown coin %q (valid: btc, eth, sol, xrp)", coin))
		}
	}
	if c.Strategy.EntryWindowSec <= 0 {
		errs = append(errs, "strategy: entry_window_sec must be > 0")
	}
	if c.Strategy.EntryFrequencySec < 0 {
		errs = append(errs, "strategy: entry_frequency_sec must be >= 0")
	}
	if c.Strategy.MinConfidence < 0 || c.Strategy.MinConfidence > 1 {
		errs = append(errs, "strategy: min_confidence must be in [0, 1]")
	}
	if c.Strategy.PriceMax <= 0 || c.Strategy.PriceMax > 1 {
		errs = append(errs, "strategy: price_max must be in (0, 1]")
	}
	if c.Strategy.MaxSpread <= 0 {
		errs = append(errs, "strategy: max_spread must be > 0")
	}
	if c.Strategy.Sizing.Above180Sec <= 0 || c.Strategy.Sizing.Above120Sec <= 0 || c.Strategy.Sizing.Below120Sec <= 0 {
		errs = append(errs, "strategy: all sizing buckets must be > 0")
	}

	// Exit
	if c.Exit.StopLossUSD >= 0 {
		errs = append(errs, fmt.Sprintf("exit: stop_loss_usd must be negative, got %v", c.Exit.StopLossUSD))
	}
	for coin, v := range c.Exit.StopLossPerCoinUSD {
		if v >= 0 {
			errs = append(errs, fmt.Sprintf("exit: stop_loss_per_coin_usd[%s] must be negative, got %v", coin, v))
		}
	}

	// Safety
	if c.Safety.MaxOrderSizeUSD <= 0 {
		errs = append(errs, "safety: max_order_size_usd must be > 0")
	}
	if c.Safety.MaxTotalInvestmentUSD <= 0 {
		errs = append(errs, "safety: max_total_investment_usd must be > 0")
	}
	if c.Safety.MaxOrderSizeUSD > c.Safety.MaxTotalInvestmentUSD {
		errs = append(errs, "safety: max_order_size_usd must not exceed max_total_investment_usd")
	}
	if c.Safety.MaxOrdersPerMinute < 1 {
		errs = append(errs, "safety: max_orders_per_minute must be >= 1")
	}

	// Feed
	if c.Feed.StaleAfter.Duration <= 0 {
		errs = append(errs, "feed: stale_after must be > 0")
	}
	if c.Feed.MaxQuoteAge.Duration <= 0 {
		errs = append(errs, "feed: max_quote_age must be > 0")
	}

	// Executor
	if c.Executor.RequestTimeout.Duration <= 0 {
		errs = append(errs, "executor: request_timeout must be > 0")
	}
	if c.Executor.ExitMaxRetries < 1 {
		errs = append(errs, "executor: exit_max_retries must be >= 1")
	}

	// Settlement endpoints are only required for redeem mode.
	if c.Mode == "redeem" {
		if c.Settlement.RPCURL == "" {
			errs = append(errs, "settlement: rpc_url must not be empty for redeem mode")
		}
		if c.Settlement.CTFAddress == "" {
			errs = append(errs, "settlement: ctf_address must not be empty")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis is optional; validated only when an address is configured.
	if c.Redis.Addr != "" {
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.Stream == "" {
			errs = append(errs, "redis: stream must not be empty when addr is set")
		}
	}

	// Notify: both telegram fields set together or neither.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EnabledCoins returns the configured coins lowercased and deduplicated,
// preserving order.
func (c *Config) EnabledCoins() []string {
	seen := make(map[string]bool, len(c.Strategy.Coins))
	out := make([]string, 0, len(c.Strategy.Coins))
	for _, coin := range c.Strategy.Coins {
		coin = strings.ToLower(coin)
		if !seen[coin] {
			seen[coin] = true
			out = append(out, coin)
		}
	}
	return out
}
