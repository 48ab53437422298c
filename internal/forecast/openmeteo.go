package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"
)

// minSigmaC floors the sample deviation so a flat forecast window does not
// produce near-certain probabilities.
const minSigmaC = 2.0

// OpenMeteo fetches hourly temperature forecasts from the Open-Meteo API
// and reduces the next 24 hours to a threshold probability.
type OpenMeteo struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenMeteo creates an Open-Meteo source. baseURL is the forecast
// endpoint, e.g. "https://api.open-meteo.com/v1/forecast".
func NewOpenMeteo(baseURL string, timeout time.Duration) *OpenMeteo {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenMeteo{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Forecast returns P(temp > thresholdC) for the next 24 hours, using the
// sample mean and deviation of the hourly series.
func (o *OpenMeteo) Forecast(ctx context.Context, city string, thresholdC float64) (Forecast, error) {
	coords, err := lookupCity(city)
	if err != nil {
		return Forecast{}, err
	}

	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", coords.lat))
	params.Set("longitude", fmt.Sprintf("%.4f", coords.lon))
	params.Set("hourly", "temperature_2m")
	params.Set("forecast_days", "3")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Forecast{}, fmt.Errorf("forecast/openmeteo: create request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("forecast/openmeteo: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Forecast{}, fmt.Errorf("forecast/openmeteo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Forecast{}, fmt.Errorf("forecast/openmeteo: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Hourly struct {
			Temperature []float64 `json:"temperature_2m"`
		} `json:"hourly"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Forecast{}, fmt.Errorf("forecast/openmeteo: decode response: %w", err)
	}

	temps := payload.Hourly.Temperature
	if len(temps) == 0 {
		return Forecast{}, fmt.Errorf("forecast/openmeteo: empty temperature series for %s", city)
	}
	if len(temps) > 24 {
		temps = temps[:24]
	}

	mean, sigma := meanAndStdDev(temps)
	if sigma < minSigmaC {
		sigma = minSigmaC
	}

	return Forecast{
		Probability: ProbabilityAbove(mean, thresholdC, sigma),
		Confidence:  0.90,
		MeanTempC:   mean,
		StdDevC:     sigma,
		Model:       "open-meteo",
	}, nil
}

func meanAndStdDev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))

	return mean, math.Sqrt(variance)
}

var _ Source = (*OpenMeteo)(nil)
