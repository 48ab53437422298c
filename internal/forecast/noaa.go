package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const noaaUserAgent = "weatheredge/1.0"

// NOAA fetches point forecasts from the National Weather Service API. The
// API reports no uncertainty, so the probability uses a configured sigma
// reflecting the model's typical 24h error.
type NOAA struct {
	baseURL    string
	sigmaC     float64
	httpClient *http.Client
}

// NewNOAA creates an NWS source. baseURL defaults to the public API root
// when empty; sigmaC is the assumed forecast error in degrees Celsius.
func NewNOAA(baseURL string, sigmaC float64, timeout time.Duration) *NOAA {
	if baseURL == "" {
		baseURL = "https://api.weather.gov"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &NOAA{
		baseURL:    baseURL,
		sigmaC:     sigmaC,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Forecast resolves the city's grid point, fetches the hourly forecast, and
// converts the first period to P(temp > thresholdC).
func (n *NOAA) Forecast(ctx context.Context, city string, thresholdC float64) (Forecast, error) {
	coords, err := lookupCity(city)
	if err != nil {
		return Forecast{}, err
	}

	gridURL := fmt.Sprintf("%s/points/%.4f,%.4f", n.baseURL, coords.lat, coords.lon)
	var grid struct {
		Properties struct {
			ForecastHourly string `json:"forecastHourly"`
		} `json:"properties"`
	}
	if err := n.getJSON(ctx, gridURL, &grid); err != nil {
		return Forecast{}, fmt.Errorf("forecast/noaa: grid point: %w", err)
	}
	if grid.Properties.ForecastHourly == "" {
		return Forecast{}, fmt.Errorf("forecast/noaa: no hourly forecast URL for %s", city)
	}

	var hourly struct {
		Properties struct {
			Periods []struct {
				Temperature     float64 `json:"temperature"`
				TemperatureUnit string  `json:"temperatureUnit"`
			} `json:"periods"`
		} `json:"properties"`
	}
	if err := n.getJSON(ctx, grid.Properties.ForecastHourly, &hourly); err != nil {
		return Forecast{}, fmt.Errorf("forecast/noaa: hourly forecast: %w", err)
	}
	if len(hourly.Properties.Periods) == 0 {
		return Forecast{}, fmt.Errorf("forecast/noaa: empty forecast for %s", city)
	}

	period := hourly.Properties.Periods[0]
	meanC := period.Temperature
	if period.TemperatureUnit == "F" {
		meanC = (period.Temperature - 32.0) * 5.0 / 9.0
	}

	return Forecast{
		Probability: ProbabilityAbove(meanC, thresholdC, n.sigmaC),
		Confidence:  0.95,
		MeanTempC:   meanC,
		StdDevC:     n.sigmaC,
		Model:       "noaa-nbm",
	}, nil
}

func (n *NOAA) getJSON(ctx context.Context, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", noaaUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

var _ Source = (*NOAA)(nil)
