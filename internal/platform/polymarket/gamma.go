package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Market is a tradable market as discovered through the Gamma API.
type Market struct {
	ConditionID string
	Question    string
	YesPrice    float64
	NoPrice     float64
	Liquidity   float64
	EndDate     time.Time
}

// GammaClient is the REST client for the Polymarket Gamma API, used for
// market discovery and metadata. Gamma endpoints are unauthenticated.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SearchMarkets returns open markets matching the given query string.
func (g *GammaClient) SearchMarkets(ctx context.Context, query string, limit int) ([]Market, error) {
	if limit <= 0 {
		limit = 50
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: search markets: %w", err)
	}

	var raw []gammaMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]Market, 0, len(raw))
	for i := range raw {
		m, err := raw[i].toMarket()
		if err != nil {
			continue // skip markets with malformed pricing
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// gammaMarket is the Gamma API wire format. outcomePrices arrives as a
// JSON-encoded string array inside a string field.
type gammaMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	OutcomePrices string `json:"outcomePrices"`
	Liquidity     string `json:"liquidity"`
	EndDate       string `json:"endDate"`
	Closed        bool   `json:"closed"`
}

func (m *gammaMarket) toMarket() (Market, error) {
	var priceStrs []string
	if err := json.Unmarshal([]byte(m.OutcomePrices), &priceStrs); err != nil {
		return Market{}, fmt.Errorf("parse outcome prices: %w", err)
	}
	if len(priceStrs) < 2 {
		return Market{}, fmt.Errorf("expected 2 outcome prices, got %d", len(priceStrs))
	}

	yes, err := strconv.ParseFloat(priceStrs[0], 64)
	if err != nil {
		return Market{}, fmt.Errorf("parse yes price: %w", err)
	}
	no, err := strconv.ParseFloat(priceStrs[1], 64)
	if err != nil {
		return Market{}, fmt.Errorf("parse no price: %w", err)
	}

	liquidity, _ := strconv.ParseFloat(m.Liquidity, 64)

	var endDate time.Time
	if m.EndDate != "" {
		endDate, _ = time.Parse(time.RFC3339, m.EndDate)
	}

	return Market{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		YesPrice:    yes,
		NoPrice:     no,
		Liquidity:   liquidity,
		EndDate:     endDate,
	}, nil
}
