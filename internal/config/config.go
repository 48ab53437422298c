// Package config defines the top-level configuration for the weatheredge bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WEATHEREDGE_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Chain      ChainConfig      `toml:"chain"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Risk       RiskConfig       `toml:"risk"`
	Breaker    BreakerConfig    `toml:"breaker"`
	Exit       ExitConfig       `toml:"exit"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Forecast   ForecastConfig   `toml:"forecast"`
	Simulator  SimulatorConfig  `toml:"simulator"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// ChainConfig holds the dual Polygon RPC endpoints and on-chain addresses
// used for balance reconciliation and gas readings.
type ChainConfig struct {
	PrimaryRPC   string   `toml:"primary_rpc"`
	FallbackRPC  string   `toml:"fallback_rpc"`
	CTFAddress   string   `toml:"ctf_address"`
	QueryTimeout duration `toml:"query_timeout"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// QuoteTTL bounds how old a cached quote may be before it is stale.
	QuoteTTL duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters for audit archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// RiskConfig holds the limits enforced by the risk gates.
type RiskConfig struct {
	MaxPositionSizeUSD float64 `toml:"max_position_size_usd"`
	MaxPositionPct     float64 `toml:"max_position_pct"`
	MaxOpenPositions   int     `toml:"max_open_positions"`
	MaxDailyTrades     int     `toml:"max_daily_trades"`
	MaxDailyLossUSD    float64 `toml:"max_daily_loss_usd"`
	MaxDrawdownPct     float64 `toml:"max_drawdown_pct"`
	MaxPerCityPerDay   int     `toml:"max_per_city_per_day"`
	MinLiquidityUSD    float64 `toml:"min_liquidity_usd"`
	MaxGasGwei         float64 `toml:"max_gas_gwei"`
	MaxSuspiciousEdge  float64 `toml:"max_suspicious_edge"`
	// ValidationBypass lists strategies excused from external validation.
	ValidationBypass []string `toml:"validation_bypass"`
}

// BreakerConfig holds circuit-breaker timing.
type BreakerConfig struct {
	Cooldown duration `toml:"cooldown"`
}

// ExitConfig holds emergency-exit parameters.
type ExitConfig struct {
	MaxLossFraction float64  `toml:"max_loss_fraction"`
	Timeout         duration `toml:"timeout"`
}

// MonitorConfig holds the execution-health anomaly thresholds.
type MonitorConfig struct {
	FillRateFloor       float64  `toml:"fill_rate_floor"`
	FillRateWindow      int      `toml:"fill_rate_window"`
	MaxAvgLatency       duration `toml:"max_avg_latency"`
	LatencyWindow       int      `toml:"latency_window"`
	MaxApiErrorsPerHour int      `toml:"max_api_errors_per_hour"`
	PersistenceRetries  int      `toml:"persistence_retries"`
}

// StrategyConfig holds weather-edge strategy parameters.
type StrategyConfig struct {
	InitialBalanceUSD float64  `toml:"initial_balance_usd"`
	MinEdge           float64  `toml:"min_edge"`
	KellyFraction     float64  `toml:"kelly_fraction"`
	Cities            []string `toml:"cities"`
	ScanInterval      duration `toml:"scan_interval"`
}

// ForecastConfig holds the weather forecast source parameters.
type ForecastConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
	// SigmaC is the assumed NOAA forecast error in degrees Celsius.
	SigmaC float64 `toml:"sigma_c"`
}

// SimulatorConfig holds paper-trading execution parameters.
type SimulatorConfig struct {
	FillRate    float64  `toml:"fill_rate"`
	SlippageBps float64  `toml:"slippage_bps"`
	Latency     duration `toml:"latency"`
	GasGwei     float64  `toml:"gas_gwei"`
	Seed        int64    `toml:"seed"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// MinSeverity drops alerts below it: "info", "warning" or "critical".
	MinSeverity string `toml:"min_severity"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 1,
		},
		Chain: ChainConfig{
			PrimaryRPC:   "https://polygon-rpc.com",
			FallbackRPC:  "https://rpc-mainnet.matic.quiknode.pro",
			CTFAddress:   "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
			QueryTimeout: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "weatheredge",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "weatheredge-audit",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Risk: RiskConfig{
			MaxPositionSizeUSD: 500,
			MaxPositionPct:     0.10,
			MaxOpenPositions:   5,
			MaxDailyTrades:     10,
			MaxDailyLossUSD:    150,
			MaxDrawdownPct:     0.15,
			MaxPerCityPerDay:   1,
			MinLiquidityUSD:    1000,
			MaxGasGwei:         300,
			MaxSuspiciousEdge:  0.30,
			ValidationBypass:   []string{"arbitrage"},
		},
		Breaker: BreakerConfig{
			Cooldown: duration{time.Hour},
		},
		Exit: ExitConfig{
			MaxLossFraction: 0.05,
			Timeout:         duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			FillRateFloor:       0.50,
			FillRateWindow:      20,
			MaxAvgLatency:       duration{3 * time.Second},
			LatencyWindow:       20,
			MaxApiErrorsPerHour: 30,
			PersistenceRetries:  3,
		},
		Strategy: StrategyConfig{
			InitialBalanceUSD: 2000,
			MinEdge:           0.08,
			KellyFraction:     0.25,
			Cities:            []string{"london", "nyc", "chicago", "seoul"},
			ScanInterval:      duration{5 * time.Minute},
		},
		Forecast: ForecastConfig{
			BaseURL: "https://api.open-meteo.com/v1/forecast",
			Timeout: duration{10 * time.Second},
			SigmaC:  2.5,
		},
		Simulator: SimulatorConfig{
			FillRate:    0.70,
			SlippageBps: 20,
			Latency:     duration{50 * time.Millisecond},
			GasGwei:     45,
		},
		Notify: NotifyConfig{
			MinSeverity: "info",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSeverities = map[string]bool{
	"info":     true,
	"warning":  true,
	"critical": true,
}

// Validate checks the configuration for consistency and returns a single
// error aggregating every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet and chain credentials bind only in live mode; paper trading
	// never touches the venue or the chain.
	if strings.ToLower(c.Mode) == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Chain.PrimaryRPC == "" || c.Chain.FallbackRPC == "" {
			errs = append(errs, "chain: both primary_rpc and fallback_rpc must be set for live mode")
		}
		if c.Chain.CTFAddress == "" {
			errs = append(errs, "chain: ctf_address must not be empty for live mode")
		}
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port %d out of range", c.Postgres.Port))
			}
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	if c.Risk.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "risk: max_position_size_usd must be positive")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_position_pct %.2f must be in (0, 1]", c.Risk.MaxPositionPct))
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown_pct %.2f must be in (0, 1)", c.Risk.MaxDrawdownPct))
	}
	if c.Risk.MaxOpenPositions <= 0 {
		errs = append(errs, "risk: max_open_positions must be positive")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk: max_daily_loss_usd must be positive")
	}

	if c.Breaker.Cooldown.Duration <= 0 {
		errs = append(errs, "breaker: cooldown must be positive")
	}
	if c.Exit.MaxLossFraction <= 0 || c.Exit.MaxLossFraction >= 1 {
		errs = append(errs, fmt.Sprintf("exit: max_loss_fraction %.2f must be in (0, 1)", c.Exit.MaxLossFraction))
	}
	if c.Exit.Timeout.Duration <= 0 {
		errs = append(errs, "exit: timeout must be positive")
	}

	if c.Monitor.FillRateFloor < 0 || c.Monitor.FillRateFloor > 1 {
		errs = append(errs, fmt.Sprintf("monitor: fill_rate_floor %.2f must be in [0, 1]", c.Monitor.FillRateFloor))
	}

	if c.Strategy.InitialBalanceUSD <= 0 {
		errs = append(errs, "strategy: initial_balance_usd must be positive")
	}
	if c.Strategy.KellyFraction <= 0 || c.Strategy.KellyFraction > 1 {
		errs = append(errs, fmt.Sprintf("strategy: kelly_fraction %.2f must be in (0, 1]", c.Strategy.KellyFraction))
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if c.Notify.MinSeverity != "" && !validSeverities[strings.ToLower(c.Notify.MinSeverity)] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_severity %q (valid: info, warning, critical)", c.Notify.MinSeverity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidationBypassSet converts the configured bypass list into the lookup
// form the risk pipeline consumes.
func (c *RiskConfig) ValidationBypassSet() map[string]bool {
	set := make(map[string]bool, len(c.ValidationBypass))
	for _, s := range c.ValidationBypass {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return set
}
