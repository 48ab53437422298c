package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"weatheredge/internal/config"
	"weatheredge/internal/domain"
)

const (
	marketSearchQuery = "temperature"
	marketSearchLimit = 50
)

// runner drives the scan-propose-approve-execute cycle.
type runner struct {
	deps   *Dependencies
	cfg    *config.Config
	logger *slog.Logger
}

func newRunner(deps *Dependencies, cfg *config.Config, logger *slog.Logger) *runner {
	return &runner{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "runner")),
	}
}

// run scans on the configured interval until the context ends. One failed
// scan is logged and retried on the next tick; a stuck legged position
// aborts the session.
func (r *runner) run(ctx context.Context) error {
	interval := r.cfg.Strategy.ScanInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First scan immediately rather than one interval in.
	if err := r.scan(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.scan(ctx); err != nil {
				return err
			}
		}
	}
}

// scan runs one full market sweep. It returns an error only for conditions
// that must end the session; rejections and per-market failures are logged
// and skipped.
func (r *runner) scan(ctx context.Context) error {
	if r.deps.Engine.BreakerState() != domain.BreakerArmed {
		r.logger.InfoContext(ctx, "breaker not armed, skipping scan",
			slog.String("state", string(r.deps.Engine.BreakerState())))
		return nil
	}

	markets, err := r.deps.Gamma.SearchMarkets(ctx, marketSearchQuery, marketSearchLimit)
	if err != nil {
		r.logger.WarnContext(ctx, "market discovery failed", slog.String("error", err.Error()))
		return nil
	}
	r.logger.DebugContext(ctx, "scanning markets", slog.Int("count", len(markets)))

	capital := r.deps.Equity.Snapshot().Equity

	for _, market := range markets {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		prop, err := r.deps.Strategy.Analyze(ctx, market, capital)
		if err != nil {
			r.logger.WarnContext(ctx, "analysis failed",
				slog.String("market_id", market.ConditionID),
				slog.String("error", err.Error()))
			continue
		}
		if prop == nil {
			continue
		}

		if err := r.trade(ctx, *prop); err != nil {
			return err
		}
	}
	return nil
}

// trade pushes one proposal through approval and execution.
func (r *runner) trade(ctx context.Context, prop domain.TradeProposal) error {
	approval, err := r.deps.Engine.ValidateAndApprove(ctx, prop)
	if err != nil {
		var rejection *domain.RejectionError
		var open *domain.CircuitOpenError
		switch {
		case errors.As(err, &rejection):
			r.logger.InfoContext(ctx, "proposal rejected",
				slog.String("market_id", prop.MarketID),
				slog.Int("gate", rejection.Gate),
				slog.String("reason", rejection.Reason))
			return nil
		case errors.As(err, &open):
			r.logger.WarnContext(ctx, "circuit open, halting scan",
				slog.String("reason", string(open.Reason)))
			return nil
		default:
			return err
		}
	}

	if err := r.deps.Engine.Execute(ctx, approval); err != nil {
		// A stuck legged position is fatal to the session; everything
		// else (a killed FOK, a flat close) is an expected outcome.
		if errors.Is(err, domain.ErrEmergencyExitFailed) {
			return err
		}
		r.logger.WarnContext(ctx, "execution did not complete",
			slog.String("position_id", approval.PositionID),
			slog.String("error", err.Error()))
	}
	return nil
}
