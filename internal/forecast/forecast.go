// Package forecast turns point weather forecasts into temperature-threshold
// probabilities. Two independent sources are provided so the strategy can
// cross-validate before trading.
package forecast

import (
	"context"
	"math"
)

// Forecast is a probabilistic temperature forecast for one city.
type Forecast struct {
	// Probability that the temperature exceeds the queried threshold.
	Probability float64
	// Confidence is the source's self-reported reliability, in [0, 1].
	Confidence float64
	MeanTempC  float64
	StdDevC    float64
	Model      string
}

// Source produces the probability that a city's temperature exceeds a
// Celsius threshold over the forecast horizon.
type Source interface {
	Forecast(ctx context.Context, city string, thresholdC float64) (Forecast, error)
}

// ProbabilityAbove models the temperature as N(mean, sigma^2) and returns
// P(temp > threshold).
func ProbabilityAbove(meanC, thresholdC, sigmaC float64) float64 {
	z := (thresholdC - meanC) / sigmaC
	return 1.0 - normalCDF(z)
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(z float64) float64 {
	return 0.5 * (1.0 + math.Erf(z/math.Sqrt2))
}
