package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/domain"
	"weatheredge/internal/forecast"
	"weatheredge/internal/platform/polymarket"
)

func TestKellyPositionSizing(t *testing.T) {
	// Capital $2,000, forecast 85%, market $0.65, betting YES:
	// odds = 0.35/0.65 = 0.538
	// kelly = (0.538*0.85 - 0.15) / 0.538 = 0.570
	// quarter Kelly: 0.1425 -> $285, capped at 10% of capital = $200.
	size := KellyPosition(2000, 0.85, 0.65, 0.25, 0.10)
	assert.InDelta(t, 200.0, size, 1.0)
}

func TestKellySmallEdge(t *testing.T) {
	size := KellyPosition(2000, 0.52, 0.50, 0.25, 0.10)
	assert.Less(t, size, 50.0)
}

func TestKellyLargeEdgeHitsCap(t *testing.T) {
	size := KellyPosition(2000, 0.95, 0.50, 0.25, 0.10)
	assert.InDelta(t, 200.0, size, 1.0)
}

func TestKellyBettingNo(t *testing.T) {
	// Forecast 20% vs market 65% flips the bet to NO.
	size := KellyPosition(2000, 0.20, 0.65, 0.25, 0.10)
	assert.Greater(t, size, 0.0)
}

func TestKellyNegativeEdgeIsZero(t *testing.T) {
	// Forecast exactly at the market price carries no edge.
	assert.Equal(t, 0.0, KellyPosition(2000, 0.50, 0.50, 0.25, 0.10))
}

func TestParseQuestion(t *testing.T) {
	info, err := ParseQuestion("Will NYC temperature exceed 60°F on 2026-02-17?")
	require.NoError(t, err)

	assert.Equal(t, "New York", info.City)
	assert.InDelta(t, 15.56, info.ThresholdC, 0.1)
	assert.Equal(t, ComparisonAbove, info.Comparison)
}

func TestParseQuestionBelow(t *testing.T) {
	info, err := ParseQuestion("Will London temperature stay below 15°C tomorrow?")
	require.NoError(t, err)

	assert.Equal(t, "London", info.City)
	assert.InDelta(t, 15.0, info.ThresholdC, 0.01)
	assert.Equal(t, ComparisonBelow, info.Comparison)
}

func TestParseQuestionRejectsUnknown(t *testing.T) {
	_, err := ParseQuestion("Will the Knicks win the 2027 title?")
	assert.Error(t, err)

	_, err = ParseQuestion("Will Chicago be warm?")
	assert.Error(t, err) // no temperature threshold

	_, err = ParseQuestion("Will Chicago temperature reach 20°C?")
	assert.Error(t, err) // no comparison direction
}

func TestExtractTemperatureUnits(t *testing.T) {
	c, err := extractTemperature("exceed 60°F")
	require.NoError(t, err)
	assert.InDelta(t, 15.56, c, 0.1)

	c, err = extractTemperature("exceed 15°C")
	require.NoError(t, err)
	assert.InDelta(t, 15.0, c, 0.01)
}

// stubSource returns a fixed probability regardless of inputs.
type stubSource struct {
	prob float64
	err  error
}

func (s stubSource) Forecast(context.Context, string, float64) (forecast.Forecast, error) {
	return forecast.Forecast{Probability: s.prob, Confidence: 0.9, Model: "stub"}, s.err
}

func testStrategy(primary, secondary forecast.Source) *WeatherEdge {
	cfg := Config{MinEdge: 0.05, KellyFraction: 0.25, MaxPositionPct: 0.10}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, primary, secondary, nil, logger)
}

func weatherMarket() polymarket.Market {
	return polymarket.Market{
		ConditionID: "0xweather",
		Question:    "Will NYC temperature exceed 60°F on 2026-09-01?",
		YesPrice:    0.65,
		NoPrice:     0.35,
		Liquidity:   5000,
	}
}

func TestAnalyzeGeneratesYesProposal(t *testing.T) {
	s := testStrategy(stubSource{prob: 0.84}, stubSource{prob: 0.86})

	prop, err := s.Analyze(context.Background(), weatherMarket(), 2000)
	require.NoError(t, err)
	require.NotNil(t, prop)

	assert.Equal(t, domain.SideYes, prop.Side)
	assert.Equal(t, Tag, prop.Strategy)
	assert.Equal(t, 0.65, prop.Price)
	assert.InDelta(t, 200.0, prop.Size, 1.0) // hits the 10% cap
	require.NotNil(t, prop.Edge)
	assert.InDelta(t, 0.20, *prop.Edge, 0.001)
}

func TestAnalyzeSkipsOnDisagreement(t *testing.T) {
	s := testStrategy(stubSource{prob: 0.90}, stubSource{prob: 0.70})

	prop, err := s.Analyze(context.Background(), weatherMarket(), 2000)
	require.NoError(t, err)
	assert.Nil(t, prop)
}

func TestAnalyzeSkipsOnThinEdge(t *testing.T) {
	s := testStrategy(stubSource{prob: 0.66}, stubSource{prob: 0.66})

	prop, err := s.Analyze(context.Background(), weatherMarket(), 2000)
	require.NoError(t, err)
	assert.Nil(t, prop)
}

func TestAnalyzeBelowQuestionFlipsProbability(t *testing.T) {
	// P(above) = 0.30, so P(below) = 0.70 vs a 0.50 market: bet YES on
	// the below question.
	s := testStrategy(stubSource{prob: 0.30}, stubSource{prob: 0.30})

	market := weatherMarket()
	market.Question = "Will NYC temperature stay below 60°F on 2026-09-01?"
	market.YesPrice = 0.50
	market.NoPrice = 0.50

	prop, err := s.Analyze(context.Background(), market, 2000)
	require.NoError(t, err)
	require.NotNil(t, prop)
	assert.Equal(t, domain.SideYes, prop.Side)
}

func TestAnalyzeSkipsDisabledCity(t *testing.T) {
	cfg := Config{MinEdge: 0.05, KellyFraction: 0.25, MaxPositionPct: 0.10, Cities: []string{"chicago"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, stubSource{prob: 0.84}, stubSource{prob: 0.86}, nil, logger)

	prop, err := s.Analyze(context.Background(), weatherMarket(), 2000)
	require.NoError(t, err)
	assert.Nil(t, prop)

	market := weatherMarket()
	market.Question = "Will Chicago temperature exceed 60°F on 2026-09-01?"
	prop, err = s.Analyze(context.Background(), market, 2000)
	require.NoError(t, err)
	assert.NotNil(t, prop)
}

func TestAnalyzeSkipsNonWeatherMarket(t *testing.T) {
	s := testStrategy(stubSource{prob: 0.9}, stubSource{prob: 0.9})

	market := weatherMarket()
	market.Question = "Will BTC close above $100k this year?"

	prop, err := s.Analyze(context.Background(), market, 2000)
	require.NoError(t, err)
	assert.Nil(t, prop)
}
