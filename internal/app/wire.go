package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "weatheredge/internal/blob/s3"
	"weatheredge/internal/breaker"
	memcache "weatheredge/internal/cache/memory"
	"weatheredge/internal/cache/redis"
	"weatheredge/internal/chain"
	"weatheredge/internal/config"
	"weatheredge/internal/crypto"
	"weatheredge/internal/domain"
	"weatheredge/internal/engine"
	"weatheredge/internal/equity"
	"weatheredge/internal/forecast"
	"weatheredge/internal/ledger"
	"weatheredge/internal/notify"
	"weatheredge/internal/platform/polymarket"
	"weatheredge/internal/risk"
	"weatheredge/internal/store/memory"
	"weatheredge/internal/store/postgres"
	"weatheredge/internal/strategy"
)

// quoteDriftTolerance is how far (as a fraction of the proposal price) the
// live quote may move before gate 9 rejects the proposal as out of date.
const quoteDriftTolerance = 0.05

// Dependencies bundles everything the run loop needs, constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Engine   *engine.Engine
	Equity   *equity.Tracker
	Strategy *strategy.WeatherEdge
	Gamma    *polymarket.GammaClient
	Quotes   domain.QuoteCache
	Notifier *notify.Notifier

	// Clob is nil in paper mode; the feed needs it to resolve token ids.
	Clob *polymarket.ClobClient
	// Archiver is nil unless S3 archival is enabled.
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete dependencies from the configuration. Paper
// mode substitutes the execution simulator and, when Postgres or Redis are
// not configured, in-memory stores. Live mode refuses to run without them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	live := cfg.Mode == "live"
	deps := &Dependencies{}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, domain.Severity(cfg.Notify.MinSeverity), logger)

	// --- Ledger stores ---
	var (
		positions domain.PositionStore
		orders    domain.OrderStore
		exits     domain.EmergencyExitStore
		events    domain.BreakerEventStore
		audits    domain.AuditStore
	)
	if live || cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		positions = postgres.NewPositionStore(pool)
		orders = postgres.NewOrderStore(pool)
		exits = postgres.NewEmergencyExitStore(pool)
		events = postgres.NewBreakerEventStore(pool)
		audits = postgres.NewAuditStore(pool)
	} else {
		logger.Warn("no postgres configured, using in-memory stores (positions will not survive restarts)")
		mem := memory.New()
		positions = mem
		orders = mem.Orders()
		exits = mem.Exits()
		events = mem.Events()
		audits = mem.Audits()
	}

	// --- Quote cache ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
	} else {
		deps.Quotes = memcache.NewQuoteCache(cfg.Redis.QuoteTTL.Duration)
	}

	// --- Execution and gas ---
	var (
		exec domain.ExecutionClient
		gas  domain.GasOracle
	)
	if live {
		privateKey, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: wallet key: %w", err))
		}

		signer, err := crypto.NewSigner(privateKey, cfg.Polymarket.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}

		chainClient, err := chain.Dial(ctx, chain.Config{
			PrimaryRPC:   cfg.Chain.PrimaryRPC,
			FallbackRPC:  cfg.Chain.FallbackRPC,
			CTFAddress:   common.HexToAddress(cfg.Chain.CTFAddress),
			Owner:        signer.Address(),
			QueryTimeout: cfg.Chain.QueryTimeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: chain: %w", err))
		}
		closers = append(closers, chainClient.Close)

		var hmacAuth *crypto.HMACAuth
		if cfg.Polymarket.ApiKey != "" {
			hmacAuth = &crypto.HMACAuth{
				Key:        cfg.Polymarket.ApiKey,
				Secret:     cfg.Polymarket.ApiSecret,
				Passphrase: cfg.Polymarket.ApiPassphrase,
			}
		}
		clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, hmacAuth)
		if hmacAuth == nil {
			if err := clob.DeriveAPIKey(ctx); err != nil {
				return fail(fmt.Errorf("wire: derive api key: %w", err))
			}
		}
		deps.Clob = clob

		exec = polymarket.NewExecutor(clob, signer, chainClient, logger)
		gas = chainClient
	} else {
		sim := engine.NewSimulator(engine.SimulatorConfig{
			FillRate:    cfg.Simulator.FillRate,
			SlippageBps: cfg.Simulator.SlippageBps,
			Latency:     cfg.Simulator.Latency.Duration,
			GasGwei:     cfg.Simulator.GasGwei,
			Seed:        cfg.Simulator.Seed,
		}, logger)
		exec = sim
		gas = sim
	}

	// --- Risk engine ---
	led := ledger.New(positions, orders, exits, events, logger)
	brk := breaker.New(events, deps.Notifier, cfg.Breaker.Cooldown.Duration, logger)
	pipe := risk.New(risk.Config{
		MaxPositionSizeUSD:       cfg.Risk.MaxPositionSizeUSD,
		MaxPositionPct:           cfg.Risk.MaxPositionPct,
		MaxOpenPositions:         cfg.Risk.MaxOpenPositions,
		MaxDailyTrades:           cfg.Risk.MaxDailyTrades,
		MaxDailyLossUSD:          cfg.Risk.MaxDailyLossUSD,
		MaxDrawdownPct:           cfg.Risk.MaxDrawdownPct,
		MaxPerKeyPerDay:          cfg.Risk.MaxPerCityPerDay,
		MinLiquidityUSD:          cfg.Risk.MinLiquidityUSD,
		MaxGasGwei:               cfg.Risk.MaxGasGwei,
		MaxSuspiciousEdge:        cfg.Risk.MaxSuspiciousEdge,
		ExternalValidationBypass: cfg.Risk.ValidationBypassSet(),
	}, nil, risk.QuoteRevalidator(deps.Quotes, quoteDriftTolerance), logger)
	monitor := engine.NewMonitor(engine.MonitorConfig{
		FillRateFloor:       cfg.Monitor.FillRateFloor,
		FillRateWindow:      cfg.Monitor.FillRateWindow,
		MaxAvgLatency:       cfg.Monitor.MaxAvgLatency.Duration,
		LatencyWindow:       cfg.Monitor.LatencyWindow,
		MaxApiErrorsPerHour: cfg.Monitor.MaxApiErrorsPerHour,
	})

	deps.Equity = equity.New(cfg.Strategy.InitialBalanceUSD)
	deps.Engine = engine.New(led, brk, pipe, deps.Equity, monitor, exec, gas, audits, deps.Notifier,
		engine.Config{
			ExitMaxLossFraction:  cfg.Exit.MaxLossFraction,
			ExitTimeout:          cfg.Exit.Timeout.Duration,
			RecoveryQueryTimeout: cfg.Chain.QueryTimeout.Duration,
			PersistenceRetries:   cfg.Monitor.PersistenceRetries,
		}, logger)

	// --- Strategy ---
	openMeteo := forecast.NewOpenMeteo(cfg.Forecast.BaseURL, cfg.Forecast.Timeout.Duration)
	noaa := forecast.NewNOAA("", cfg.Forecast.SigmaC, cfg.Forecast.Timeout.Duration)
	deps.Strategy = strategy.New(strategy.Config{
		MinEdge:        cfg.Strategy.MinEdge,
		KellyFraction:  cfg.Strategy.KellyFraction,
		MaxPositionPct: cfg.Risk.MaxPositionPct,
		Cities:         cfg.Strategy.Cities,
	}, noaa, openMeteo, deps.Quotes, logger)
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	// --- Audit archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(s3Client, audits, retention, time.Hour, logger)
	}

	return deps, cleanup, nil
}
