package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateInPaperMode(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLiveModeRequiresWalletAndChain(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "paper"

[risk]
max_daily_loss_usd = 250.0

[breaker]
cooldown = "30m"
`), 0o644))

	t.Setenv("WEATHEREDGE_RISK_MAX_OPEN_POSITIONS", "7")
	t.Setenv("WEATHEREDGE_STRATEGY_CITIES", "nyc, austin")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.InDelta(t, 250.0, cfg.Risk.MaxDailyLossUSD, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Breaker.Cooldown.Duration)
	assert.Equal(t, 7, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, []string{"nyc", "austin"}, cfg.Strategy.Cities)
	// Untouched sections keep their defaults.
	assert.InDelta(t, 0.05, cfg.Exit.MaxLossFraction, 1e-9)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	// The original is untouched.
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
}

func TestValidationBypassSet(t *testing.T) {
	rc := RiskConfig{ValidationBypass: []string{"Arbitrage", " weather_edge "}}
	set := rc.ValidationBypassSet()
	assert.True(t, set["arbitrage"])
	assert.True(t, set["weather_edge"])
	assert.False(t, set["other"])
}
