package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalCDFKnownValues(t *testing.T) {
	assert.InDelta(t, 0.5, normalCDF(0.0), 0.001)
	assert.InDelta(t, 0.8413, normalCDF(1.0), 0.01)
	assert.InDelta(t, 0.1587, normalCDF(-1.0), 0.01)
}

func TestProbabilityAbove(t *testing.T) {
	// mean 16C, threshold 15C, sigma 2.5C: z = -0.4, P ~ 0.655.
	assert.InDelta(t, 0.655, ProbabilityAbove(16.0, 15.0, 2.5), 0.05)

	// Mean far above the threshold.
	assert.Greater(t, ProbabilityAbove(20.0, 15.0, 2.5), 0.95)

	// Mean far below the threshold.
	assert.Less(t, ProbabilityAbove(10.0, 15.0, 2.5), 0.05)
}

func TestLookupCityAlias(t *testing.T) {
	nyc, err := lookupCity("NYC")
	require.NoError(t, err)
	ny, err := lookupCity("New York")
	require.NoError(t, err)
	assert.Equal(t, ny, nyc)

	_, err = lookupCity("Atlantis")
	assert.Error(t, err)
}

func TestOpenMeteoForecast(t *testing.T) {
	// 24 flat hours at 16C; the sigma floor of 2C applies, so
	// P(temp > 15) = 1 - CDF((15-16)/2) ~ 0.691.
	temps := make([]float64, 48)
	for i := range temps {
		temps[i] = 16.0
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "temperature_2m", r.URL.Query().Get("hourly"))
		json.NewEncoder(w).Encode(map[string]any{
			"hourly": map[string]any{"temperature_2m": temps},
		})
	}))
	defer srv.Close()

	src := NewOpenMeteo(srv.URL, time.Second)
	fc, err := src.Forecast(context.Background(), "London", 15.0)
	require.NoError(t, err)

	assert.Equal(t, "open-meteo", fc.Model)
	assert.InDelta(t, 16.0, fc.MeanTempC, 0.001)
	assert.InDelta(t, 2.0, fc.StdDevC, 0.001)
	assert.InDelta(t, 0.691, fc.Probability, 0.01)
}

func TestNOAAForecastFahrenheitConversion(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/points/40.7128,-74.0060":
			json.NewEncoder(w).Encode(map[string]any{
				"properties": map[string]any{"forecastHourly": srv.URL + "/gridpoints/OKX/33,35/forecast/hourly"},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"properties": map[string]any{
					"periods": []map[string]any{{"temperature": 60.8, "temperatureUnit": "F"}},
				},
			})
		}
	}))
	defer srv.Close()

	src := NewNOAA(srv.URL, 2.5, time.Second)
	fc, err := src.Forecast(context.Background(), "NYC", 15.0)
	require.NoError(t, err)

	assert.Equal(t, "noaa-nbm", fc.Model)
	assert.InDelta(t, 16.0, fc.MeanTempC, 0.01) // 60.8F = 16C
	assert.InDelta(t, 2.5, fc.StdDevC, 0.001)
}
