// Package risk implements the sequential pre-trade validation pipeline.
// It is a pure function of its snapshot inputs: ten gates evaluated strictly
// in order, the first failure short-circuiting with its reason. No gate has
// side effects, so any decision can be replayed deterministically in tests.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"weatheredge/internal/domain"
	"weatheredge/internal/equity"
)

// Gate numbers, in evaluation order. The lowest-numbered failing gate wins.
const (
	GateCapital       = 1
	GateOpenPositions = 2
	GateDailyTrades   = 3
	GateDailyLoss     = 4
	GateDrawdown      = 5
	GateMarketQuality = 6
	GateGasPrice      = 7
	GateEdgeSanity    = 8
	GateExternal      = 9
	GateCorrelation   = 10
)

// Config holds the tunable limits for the ten gates.
type Config struct {
	MaxPositionSizeUSD float64
	MaxPositionPct     float64
	MaxOpenPositions   int
	MaxDailyTrades     int
	MaxDailyLossUSD    float64
	MaxDrawdownPct     float64
	MaxPerKeyPerDay    int
	MinLiquidityUSD    float64
	MaxGasGwei         float64
	// MaxSuspiciousEdge rejects edges too good to be true; absurd
	// "opportunities" usually mean bad upstream data.
	MaxSuspiciousEdge float64
	// ExternalValidationBypass lists strategies for which gate 9 is skipped
	// by configuration (time-critical strategies). Skips are always logged.
	ExternalValidationBypass map[string]bool
}

// CountersSnapshot is the daily-counter state a validation runs against.
type CountersSnapshot struct {
	Trades      int
	RealizedPnL float64
	ByKey       map[string]int
}

// Inputs bundles the immutable snapshots one validation consumes.
type Inputs struct {
	Proposal         domain.TradeProposal
	AvailableBalance float64
	OpenPositions    int
	Equity           equity.Snapshot
	Counters         CountersSnapshot
	GasPriceGwei     float64
}

// CorrelationKeyFunc extracts the correlation-limit key from a proposal
// (e.g. the city for weather markets).
type CorrelationKeyFunc func(p domain.TradeProposal) string

// ExternalValidator is the injected gate-9 predicate, e.g. an independent
// confirmation service for slow-resolving markets.
type ExternalValidator func(ctx context.Context, p domain.TradeProposal) (ok bool, reason string, err error)

// Pipeline evaluates proposals against the configured limits.
type Pipeline struct {
	cfg       Config
	keyFn     CorrelationKeyFunc
	validator ExternalValidator
	logger    *slog.Logger
}

// New creates a Pipeline. keyFn may be nil to use DefaultCorrelationKey;
// validator may be nil only if every non-bypassed strategy is never traded.
func New(cfg Config, keyFn CorrelationKeyFunc, validator ExternalValidator, logger *slog.Logger) *Pipeline {
	if keyFn == nil {
		keyFn = DefaultCorrelationKey
	}
	return &Pipeline{
		cfg:       cfg,
		keyFn:     keyFn,
		validator: validator,
		logger:    logger.With(slog.String("component", "risk_pipeline")),
	}
}

// KeyFor exposes the correlation key the pipeline would use for a proposal,
// so the caller can stamp it onto the opened position.
func (p *Pipeline) KeyFor(prop domain.TradeProposal) string {
	return p.keyFn(prop)
}

// Validate runs the ten gates in order and returns nil on approval or a
// *domain.RejectionError naming the first failed gate.
func (p *Pipeline) Validate(ctx context.Context, in Inputs) error {
	prop := in.Proposal

	// 1. Capital.
	if prop.Size > in.AvailableBalance {
		return reject(GateCapital, fmt.Sprintf("insufficient balance: need $%.2f, have $%.2f", prop.Size, in.AvailableBalance))
	}

	// 2. Open-position count.
	if in.OpenPositions >= p.cfg.MaxOpenPositions {
		return reject(GateOpenPositions, fmt.Sprintf("max open positions reached (%d/%d)", in.OpenPositions, p.cfg.MaxOpenPositions))
	}

	// 3. Daily trade count.
	if in.Counters.Trades >= p.cfg.MaxDailyTrades {
		return reject(GateDailyTrades, fmt.Sprintf("daily trade limit reached (%d/%d)", in.Counters.Trades, p.cfg.MaxDailyTrades))
	}

	// 4. Daily realized loss.
	if in.Counters.RealizedPnL <= -p.cfg.MaxDailyLossUSD {
		return reject(GateDailyLoss, fmt.Sprintf("daily loss limit hit: $%.2f", in.Counters.RealizedPnL))
	}

	// 5. Drawdown.
	if in.Equity.Equity <= in.Equity.Peak*(1-p.cfg.MaxDrawdownPct) {
		return reject(GateDrawdown, fmt.Sprintf("drawdown %.1f%% exceeds max %.1f%%", in.Equity.Drawdown*100, p.cfg.MaxDrawdownPct*100))
	}

	// 6. Market quality and sizing.
	if prop.Liquidity < p.cfg.MinLiquidityUSD {
		return reject(GateMarketQuality, fmt.Sprintf("liquidity $%.2f below minimum $%.2f", prop.Liquidity, p.cfg.MinLiquidityUSD))
	}
	if prop.Size > p.cfg.MaxPositionSizeUSD {
		return reject(GateMarketQuality, fmt.Sprintf("position $%.2f exceeds absolute cap $%.2f", prop.Size, p.cfg.MaxPositionSizeUSD))
	}
	if cap := in.AvailableBalance * p.cfg.MaxPositionPct; prop.Size > cap {
		return reject(GateMarketQuality, fmt.Sprintf("position $%.2f exceeds %.0f%% of capital ($%.2f)", prop.Size, p.cfg.MaxPositionPct*100, cap))
	}

	// 7. Operational cost.
	if in.GasPriceGwei > p.cfg.MaxGasGwei {
		return reject(GateGasPrice, fmt.Sprintf("gas %.1f gwei above ceiling %.1f gwei", in.GasPriceGwei, p.cfg.MaxGasGwei))
	}

	// 8. Edge sanity.
	if prop.Edge != nil && *prop.Edge > p.cfg.MaxSuspiciousEdge {
		return reject(GateEdgeSanity, fmt.Sprintf("edge %.1f%% too good to be true (ceiling %.1f%%)", *prop.Edge*100, p.cfg.MaxSuspiciousEdge*100))
	}

	// 9. External validation. Bypass is per-strategy configuration and is
	// logged; it is never skipped silently.
	if p.cfg.ExternalValidationBypass[prop.Strategy] {
		p.logger.DebugContext(ctx, "external validation bypassed by configuration",
			slog.String("strategy", prop.Strategy),
			slog.String("market_id", prop.MarketID),
		)
	} else {
		if p.validator == nil {
			return reject(GateExternal, "no external validator configured for strategy "+prop.Strategy)
		}
		ok, reason, err := p.validator(ctx, prop)
		if err != nil {
			return reject(GateExternal, fmt.Sprintf("external validation error: %v", err))
		}
		if !ok {
			return reject(GateExternal, "external validation rejected: "+reason)
		}
	}

	// 10. Correlation limit.
	key := p.keyFn(prop)
	if in.Counters.ByKey[key] >= p.cfg.MaxPerKeyPerDay {
		return reject(GateCorrelation, fmt.Sprintf("correlation limit reached for %q (%d/%d today)", key, in.Counters.ByKey[key], p.cfg.MaxPerKeyPerDay))
	}

	return nil
}

func reject(gate int, reason string) error {
	return &domain.RejectionError{Gate: gate, Reason: reason}
}

// DefaultCorrelationKey extracts the city segment from weather market ids of
// the form "...-in-<city>-on-<date>...". When the id does not match, the
// whole market id is the key, limiting non-weather strategies per market.
func DefaultCorrelationKey(p domain.TradeProposal) string {
	id := strings.ToLower(p.MarketID)
	if i := strings.Index(id, "-in-"); i >= 0 {
		rest := id[i+len("-in-"):]
		if j := strings.Index(rest, "-on-"); j > 0 {
			return rest[:j]
		}
	}
	return id
}
