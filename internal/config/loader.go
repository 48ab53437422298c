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
// built-in defaults, applies WEATHEREDGE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known WEATHEREDGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WEATHEREDGE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "WEATHEREDGE_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WEATHEREDGE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WEATHEREDGE_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "WEATHEREDGE_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "WEATHEREDGE_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "WEATHEREDGE_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "WEATHEREDGE_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "WEATHEREDGE_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ApiKey, "WEATHEREDGE_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "WEATHEREDGE_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "WEATHEREDGE_POLYMARKET_API_PASSPHRASE")

	// ── Chain ──
	setStr(&cfg.Chain.PrimaryRPC, "WEATHEREDGE_CHAIN_PRIMARY_RPC")
	setStr(&cfg.Chain.FallbackRPC, "WEATHEREDGE_CHAIN_FALLBACK_RPC")
	setStr(&cfg.Chain.CTFAddress, "WEATHEREDGE_CHAIN_CTF_ADDRESS")
	setDuration(&cfg.Chain.QueryTimeout, "WEATHEREDGE_CHAIN_QUERY_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WEATHEREDGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WEATHEREDGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WEATHEREDGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WEATHEREDGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WEATHEREDGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WEATHEREDGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WEATHEREDGE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WEATHEREDGE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WEATHEREDGE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WEATHEREDGE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WEATHEREDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WEATHEREDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WEATHEREDGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WEATHEREDGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WEATHEREDGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WEATHEREDGE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "WEATHEREDGE_REDIS_QUOTE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WEATHEREDGE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WEATHEREDGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WEATHEREDGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "WEATHEREDGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WEATHEREDGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WEATHEREDGE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "WEATHEREDGE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "WEATHEREDGE_S3_RETENTION_DAYS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSizeUSD, "WEATHEREDGE_RISK_MAX_POSITION_SIZE_USD")
	setFloat64(&cfg.Risk.MaxPositionPct, "WEATHEREDGE_RISK_MAX_POSITION_PCT")
	setInt(&cfg.Risk.MaxOpenPositions, "WEATHEREDGE_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxDailyTrades, "WEATHEREDGE_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.MaxDailyLossUSD, "WEATHEREDGE_RISK_MAX_DAILY_LOSS_USD")
	setFloat64(&cfg.Risk.MaxDrawdownPct, "WEATHEREDGE_RISK_MAX_DRAWDOWN_PCT")
	setInt(&cfg.Risk.MaxPerCityPerDay, "WEATHEREDGE_RISK_MAX_PER_CITY_PER_DAY")
	setFloat64(&cfg.Risk.MinLiquidityUSD, "WEATHEREDGE_RISK_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Risk.MaxGasGwei, "WEATHEREDGE_RISK_MAX_GAS_GWEI")
	setFloat64(&cfg.Risk.MaxSuspiciousEdge, "WEATHEREDGE_RISK_MAX_SUSPICIOUS_EDGE")
	setStringSlice(&cfg.Risk.ValidationBypass, "WEATHEREDGE_RISK_VALIDATION_BYPASS")

	// ── Breaker / exit / monitor ──
	setDuration(&cfg.Breaker.Cooldown, "WEATHEREDGE_BREAKER_COOLDOWN")
	setFloat64(&cfg.Exit.MaxLossFraction, "WEATHEREDGE_EXIT_MAX_LOSS_FRACTION")
	setDuration(&cfg.Exit.Timeout, "WEATHEREDGE_EXIT_TIMEOUT")
	setFloat64(&cfg.Monitor.FillRateFloor, "WEATHEREDGE_MONITOR_FILL_RATE_FLOOR")
	setInt(&cfg.Monitor.FillRateWindow, "WEATHEREDGE_MONITOR_FILL_RATE_WINDOW")
	setDuration(&cfg.Monitor.MaxAvgLatency, "WEATHEREDGE_MONITOR_MAX_AVG_LATENCY")
	setInt(&cfg.Monitor.LatencyWindow, "WEATHEREDGE_MONITOR_LATENCY_WINDOW")
	setInt(&cfg.Monitor.MaxApiErrorsPerHour, "WEATHEREDGE_MONITOR_MAX_API_ERRORS_PER_HOUR")
	setInt(&cfg.Monitor.PersistenceRetries, "WEATHEREDGE_MONITOR_PERSISTENCE_RETRIES")

	// ── Strategy ──
	setFloat64(&cfg.Strategy.InitialBalanceUSD, "WEATHEREDGE_STRATEGY_INITIAL_BALANCE_USD")
	setFloat64(&cfg.Strategy.MinEdge, "WEATHEREDGE_STRATEGY_MIN_EDGE")
	setFloat64(&cfg.Strategy.KellyFraction, "WEATHEREDGE_STRATEGY_KELLY_FRACTION")
	setStringSlice(&cfg.Strategy.Cities, "WEATHEREDGE_STRATEGY_CITIES")
	setDuration(&cfg.Strategy.ScanInterval, "WEATHEREDGE_STRATEGY_SCAN_INTERVAL")

	// ── Forecast ──
	setStr(&cfg.Forecast.BaseURL, "WEATHEREDGE_FORECAST_BASE_URL")
	setDuration(&cfg.Forecast.Timeout, "WEATHEREDGE_FORECAST_TIMEOUT")
	setFloat64(&cfg.Forecast.SigmaC, "WEATHEREDGE_FORECAST_SIGMA_C")

	// ── Simulator ──
	setFloat64(&cfg.Simulator.FillRate, "WEATHEREDGE_SIMULATOR_FILL_RATE")
	setFloat64(&cfg.Simulator.SlippageBps, "WEATHEREDGE_SIMULATOR_SLIPPAGE_BPS")
	setDuration(&cfg.Simulator.Latency, "WEATHEREDGE_SIMULATOR_LATENCY")
	setFloat64(&cfg.Simulator.GasGwei, "WEATHEREDGE_SIMULATOR_GAS_GWEI")
	setInt64(&cfg.Simulator.Seed, "WEATHEREDGE_SIMULATOR_SEED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WEATHEREDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WEATHEREDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WEATHEREDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "WEATHEREDGE_NOTIFY_MIN_SEVERITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "WEATHEREDGE_MODE")
	setStr(&cfg.LogLevel, "WEATHEREDGE_LOG_LEVEL")
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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
