// Package strategy turns weather markets into trade proposals. It combines
// two probabilistic forecasts, computes the edge against the market price,
// and sizes positions with fractional Kelly.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"weatheredge/internal/domain"
	"weatheredge/internal/forecast"
	"weatheredge/internal/platform/polymarket"
)

// Tag identifies proposals from this strategy in audits and correlation keys.
const Tag = "weather_edge"

// maxDisagreement is the largest tolerated gap between the two forecast
// probabilities. Larger gaps mean at least one model is wrong and the
// market is skipped.
const maxDisagreement = 0.10

// Config holds the weather-edge strategy parameters.
type Config struct {
	MinEdge        float64
	KellyFraction  float64
	MaxPositionPct float64
	// Cities restricts trading to the named cities (question substrings,
	// e.g. "nyc"). Empty means every city the parser knows.
	Cities []string
}

// WeatherEdge analyzes temperature-threshold markets. Analyze is safe for
// concurrent use.
type WeatherEdge struct {
	cfg       Config
	cities    map[string]bool // canonical city names; nil allows all
	primary   forecast.Source
	secondary forecast.Source
	quotes    domain.QuoteCache
	logger    *slog.Logger
	now       func() time.Time
}

// New creates the strategy. quotes may be nil when no live feed runs; the
// Gamma snapshot price is used instead.
func New(cfg Config, primary, secondary forecast.Source, quotes domain.QuoteCache, logger *slog.Logger) *WeatherEdge {
	return &WeatherEdge{
		cfg:       cfg,
		cities:    canonicalCitySet(cfg.Cities),
		primary:   primary,
		secondary: secondary,
		quotes:    quotes,
		logger:    logger.With("component", "weather_edge"),
		now:       time.Now,
	}
}

// Analyze evaluates one market and returns a proposal, or nil when the
// market is unparsable, the forecasts disagree, or the edge is too small.
func (s *WeatherEdge) Analyze(ctx context.Context, market polymarket.Market, capital float64) (*domain.TradeProposal, error) {
	info, err := ParseQuestion(market.Question)
	if err != nil {
		s.logger.Debug("skipping market", "question", market.Question, "reason", err)
		return nil, nil
	}
	if s.cities != nil && !s.cities[info.City] {
		s.logger.Debug("city not enabled, skipping", "city", info.City)
		return nil, nil
	}

	primary, err := s.primary.Forecast(ctx, info.City, info.ThresholdC)
	if err != nil {
		return nil, fmt.Errorf("strategy: primary forecast for %s: %w", info.City, err)
	}
	secondary, err := s.secondary.Forecast(ctx, info.City, info.ThresholdC)
	if err != nil {
		return nil, fmt.Errorf("strategy: secondary forecast for %s: %w", info.City, err)
	}

	disagreement := math.Abs(primary.Probability - secondary.Probability)
	if disagreement > maxDisagreement {
		s.logger.Warn("forecast disagreement, skipping",
			"city", info.City,
			"primary", primary.Probability,
			"secondary", secondary.Probability)
		return nil, nil
	}

	prob := (primary.Probability + secondary.Probability) / 2.0
	if info.Comparison == ComparisonBelow {
		prob = 1.0 - prob
	}

	yesPrice := s.yesPrice(ctx, market)
	edge := math.Abs(prob - yesPrice)
	if edge < s.cfg.MinEdge {
		s.logger.Debug("edge below minimum",
			"market_id", market.ConditionID,
			"edge", edge,
			"min_edge", s.cfg.MinEdge)
		return nil, nil
	}

	side := domain.SideYes
	entryPrice := yesPrice
	if prob <= yesPrice {
		side = domain.SideNo
		entryPrice = 1.0 - yesPrice
	}
	if entryPrice <= 0 || entryPrice >= 1 {
		return nil, nil
	}

	size := KellyPosition(capital, prob, yesPrice, s.cfg.KellyFraction, s.cfg.MaxPositionPct)
	if size <= 0 {
		return nil, nil
	}

	s.logger.Info("proposal generated",
		"market_id", market.ConditionID,
		"city", info.City,
		"side", side,
		"forecast_prob", prob,
		"market_prob", yesPrice,
		"edge", edge,
		"size_usd", size)

	return &domain.TradeProposal{
		ID:        uuid.NewString(),
		MarketID:  market.ConditionID,
		Strategy:  Tag,
		Side:      side,
		Price:     entryPrice,
		Size:      size,
		Edge:      &edge,
		Liquidity: market.Liquidity,
		CreatedAt: s.now().UTC(),
	}, nil
}

// yesPrice prefers a fresh cached quote over the discovery snapshot.
func (s *WeatherEdge) yesPrice(ctx context.Context, market polymarket.Market) float64 {
	if s.quotes == nil {
		return market.YesPrice
	}
	quote, err := s.quotes.Get(ctx, market.ConditionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrStaleQuote) {
			s.logger.Warn("quote cache read failed", "market_id", market.ConditionID, "error", err)
		}
		return market.YesPrice
	}
	return quote.Price
}
