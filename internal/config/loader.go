package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "UPDOWN_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "UPDOWN_WALLET_FUNDER_ADDRESS")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "UPDOWN_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "UPDOWN_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "UPDOWN_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "UPDOWN_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "UPDOWN_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "UPDOWN_POLYMARKET_SIGNATURE_TYPE")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Coins, "UPDOWN_STRATEGY_COINS")
	setInt(&cfg.Strategy.EntryWindowSec, "UPDOWN_STRATEGY_ENTRY_WINDOW_SEC")
	setInt(&cfg.Strategy.EntryFrequencySec, "UPDOWN_STRATEGY_ENTRY_FREQUENCY_SEC")
	setFloat64(&cfg.Strategy.MinConfidence, "UPDOWN_STRATEGY_MIN_CONFIDENCE")
	setFloat64(&cfg.Strategy.PriceMax, "UPDOWN_STRATEGY_PRICE_MAX")
	setFloat64(&cfg.Strategy.MaxSpread, "UPDOWN_STRATEGY_MAX_SPREAD")
	setFloat64(&cfg.Strategy.Sizing.Above180Sec, "UPDOWN_STRATEGY_SIZING_ABOVE_180_SEC")
	setFloat64(&cfg.Strategy.Sizing.Above120Sec, "UPDOWN_STRATEGY_SIZING_ABOVE_120_SEC")
	setFloat64(&cfg.Strategy.Sizing.Below120Sec, "UPDOWN_STRATEGY_SIZING_BELOW_120_SEC")

	// ── Exit ──
	setFloat64(&cfg.Exit.StopLossUSD, "UPDOWN_EXIT_STOP_LOSS_USD")
	setBool(&cfg.Exit.FlipStopEnabled, "UPDOWN_EXIT_FLIP_STOP_ENABLED")

	// ── Safety ──
	setBool(&cfg.Safety.DryRun, "UPDOWN_SAFETY_DRY_RUN")
	setFloat64(&cfg.Safety.MaxOrderSizeUSD, "UPDOWN_SAFETY_MAX_ORDER_SIZE_USD")
	setFloat64(&cfg.Safety.MaxTotalInvestmentUSD, "UPDOWN_SAFETY_MAX_TOTAL_INVESTMENT_USD")
	setInt(&cfg.Safety.MaxOrdersPerMinute, "UPDOWN_SAFETY_MAX_ORDERS_PER_MINUTE")

	// ── Feed ──
	setDuration(&cfg.Feed.StaleAfter, "UPDOWN_FEED_STALE_AFTER")
	setDuration(&cfg.Feed.MaxQuoteAge, "UPDOWN_FEED_MAX_QUOTE_AGE")
	setDuration(&cfg.Feed.ReconnectBackoffMax, "UPDOWN_FEED_RECONNECT_BACKOFF_MAX")

	// ── Executor ──
	setDuration(&cfg.Executor.RequestTimeout, "UPDOWN_EXECUTOR_REQUEST_TIMEOUT")
	setInt(&cfg.Executor.ExitMaxRetries, "UPDOWN_EXECUTOR_EXIT_MAX_RETRIES")
	setDuration(&cfg.Executor.RetryBackoff, "UPDOWN_EXECUTOR_RETRY_BACKOFF")
	setDuration(&cfg.Executor.RetryBackoffMax, "UPDOWN_EXECUTOR_RETRY_BACKOFF_MAX")

	// ── Settlement ──
	setStr(&cfg.Settlement.RPCURL, "UPDOWN_SETTLEMENT_RPC_URL")
	setStr(&cfg.Settlement.CTFAddress, "UPDOWN_SETTLEMENT_CTF_ADDRESS")
	setStr(&cfg.Settlement.USDCAddress, "UPDOWN_SETTLEMENT_USDC_ADDRESS")
	setStr(&cfg.Settlement.NegRiskAdapter, "UPDOWN_SETTLEMENT_NEG_RISK_ADAPTER")
	setDuration(&cfg.Settlement.ScanInterval, "UPDOWN_SETTLEMENT_SCAN_INTERVAL")
	setFloat64(&cfg.Settlement.MinRedeemContracts, "UPDOWN_SETTLEMENT_MIN_REDEEM_CONTRACTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setStr(&cfg.Redis.Stream, "UPDOWN_REDIS_STREAM")
	setInt64(&cfg.Redis.StreamMax, "UPDOWN_REDIS_STREAM_MAX_LEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "UPDOWN_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
