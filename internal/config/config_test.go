package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Safety.DryRun)
	assert.Equal(t, []string{"btc", "eth", "sol", "xrp"}, cfg.Strategy.Coins)
}

func TestValidateRequiresWalletForLiveTrading(t *testing.T) {
	cfg := Defaults()
	cfg.Safety.DryRun = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key")
}

func TestValidateRequiresWalletForRedeemMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "redeem"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Strategy.Coins = []string{"doge"}
	cfg.Exit.StopLossUSD = 5
	cfg.Safety.MaxOrderSizeUSD = 500 // exceeds max_total_investment_usd

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown coin")
	assert.Contains(t, err.Error(), "stop_loss_usd must be negative")
	assert.Contains(t, err.Error(), "max_order_size_usd must not exceed")
}

func TestStopLossForFallsBackToDefault(t *testing.T) {
	e := ExitConfig{
		StopLossUSD:        -12,
		StopLossPerCoinUSD: map[string]float64{"xrp": -8},
	}
	assert.Equal(t, -8.0, e.StopLossFor("xrp"))
	assert.Equal(t, -8.0, e.StopLossFor("XRP"))
	assert.Equal(t, -12.0, e.StopLossFor("btc"))
}

func TestEnabledCoinsLowercasesAndDedupes(t *testing.T) {
	cfg := Defaults()
	cfg.Strategy.Coins = []string{"BTC", "eth", "btc", "Eth"}
	assert.Equal(t, []string{"btc", "eth"}, cfg.EnabledCoins())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
mode = "trade"
log_level = "debug"

[strategy]
coins = ["btc", "eth"]
entry_window_sec = 200

[feed]
max_quote_age = "5s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"btc", "eth"}, cfg.Strategy.Coins)
	assert.Equal(t, 200, cfg.Strategy.EntryWindowSec)
	assert.Equal(t, 5*time.Second, cfg.Feed.MaxQuoteAge.Duration)

	// Untouched fields keep their defaults.
	assert.Equal(t, 0.30, cfg.Strategy.MinConfidence)
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"trade\"\n"), 0o600))

	t.Setenv("UPDOWN_WALLET_PRIVATE_KEY", "deadbeef")
	t.Setenv("UPDOWN_SAFETY_DRY_RUN", "false")
	t.Setenv("UPDOWN_STRATEGY_COINS", "sol, xrp")
	t.Setenv("UPDOWN_EXIT_STOP_LOSS_USD", "-20")
	t.Setenv("UPDOWN_FEED_STALE_AFTER", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.False(t, cfg.Safety.DryRun)
	assert.Equal(t, []string{"sol", "xrp"}, cfg.Strategy.Coins)
	assert.Equal(t, -20.0, cfg.Exit.StopLossUSD)
	assert.Equal(t, 45*time.Second, cfg.Feed.StaleAfter.Duration)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))
}
