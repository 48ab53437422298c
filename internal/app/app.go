// Package app wires the trading engine's dependencies and owns the run
// loop: crash recovery first, then market scanning, quote feeding, and
// audit archival until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"weatheredge/internal/config"
	"weatheredge/internal/feed"
	"weatheredge/internal/strategy"
)

// App is the root application object. It owns the configuration, logger,
// and the cleanup chain run on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, performs startup recovery, and runs the trading
// loops until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// No proposal may be evaluated before the ledger, breaker, counters
	// and equity are rebuilt from durable state.
	if err := deps.Engine.Recover(ctx); err != nil {
		return fmt.Errorf("app: startup recovery: %w", err)
	}
	a.logger.InfoContext(ctx, "recovery complete",
		slog.String("breaker", string(deps.Engine.BreakerState())),
		slog.Float64("equity", deps.Equity.Snapshot().Equity))

	g, ctx := errgroup.WithContext(ctx)

	runner := newRunner(deps, a.cfg, a.logger)
	g.Go(func() error { return runner.run(ctx) })

	if a.cfg.Mode == "live" {
		g.Go(func() error {
			return a.runFeed(ctx, deps)
		})
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}

// runFeed discovers the current weather markets, resolves their YES outcome
// tokens, and streams live quotes into the cache.
func (a *App) runFeed(ctx context.Context, deps *Dependencies) error {
	markets, err := deps.Gamma.SearchMarkets(ctx, marketSearchQuery, marketSearchLimit)
	if err != nil {
		return fmt.Errorf("app: feed market discovery: %w", err)
	}

	var subs []feed.Subscription
	for _, m := range markets {
		apiMarket, err := deps.Clob.GetMarket(ctx, m.ConditionID)
		if err != nil {
			a.logger.WarnContext(ctx, "token resolution failed, skipping feed subscription",
				slog.String("market_id", m.ConditionID),
				slog.String("error", err.Error()))
			continue
		}
		for _, tok := range apiMarket.Tokens {
			if tok.Outcome == "Yes" {
				subs = append(subs, feed.Subscription{
					AssetID:     tok.TokenID,
					MarketID:    m.ConditionID,
					StrategyTag: strategy.Tag,
				})
			}
		}
	}

	wsURL := a.cfg.Polymarket.WsHost + "/ws/market"
	return feed.NewQuoteFeed(wsURL, deps.Quotes, subs, a.logger).Run(ctx)
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
