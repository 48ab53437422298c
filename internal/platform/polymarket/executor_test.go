package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/crypto"
	"weatheredge/internal/domain"
)

// Well-known throwaway key; never funded.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	signer, err := crypto.NewSigner(testPrivateKey, 137)
	require.NoError(t, err)
	return signer
}

// clobServer fakes the two endpoints order submission touches: market
// token resolution and order posting.
func clobServer(t *testing.T, postResult APIOrderResult, gotOrder *map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /markets/0xcond", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(APIMarket{
			ConditionID: "0xcond",
			Tokens: []APIToken{
				{TokenID: "111", Outcome: "Yes"},
				{TokenID: "222", Outcome: "No"},
			},
		})
	})
	mux.HandleFunc("POST /order", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Order     map[string]any `json:"order"`
			Owner     string         `json:"owner"`
			OrderType string         `json:"orderType"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if gotOrder != nil {
			*gotOrder = body.Order
		}
		json.NewEncoder(w).Encode(postResult)
	})
	return httptest.NewServer(mux)
}

func buyOrder(size, price float64) domain.Order {
	return domain.Order{
		ID:       "ord-1",
		MarketID: "0xcond",
		Side:     domain.OrderSideBuy,
		Token:    domain.TokenYes,
		Price:    price,
		Size:     size,
		Type:     domain.OrderTypeFOK,
	}
}

func TestSubmitOrderMatched(t *testing.T) {
	var sent map[string]any
	srv := clobServer(t, APIOrderResult{
		Success:      true,
		OrderID:      "exch-1",
		Status:       "matched",
		TakingAmount: "100",
		MakingAmount: "65",
	}, &sent)
	defer srv.Close()

	signer := testSigner(t)
	exec := NewExecutor(NewClobClient(srv.URL, signer, nil), signer, nil, testLogger())

	fill, err := exec.SubmitOrder(context.Background(), buyOrder(100, 0.65))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.InDelta(t, 100.0, fill.Size, 1e-9)
	assert.InDelta(t, 0.65, fill.Price, 1e-9)
	assert.InDelta(t, 65.0, fill.Cost, 1e-9)

	// The signed payload carries the YES token and buy terms in 1e6 units.
	assert.Equal(t, "111", sent["tokenID"])
	assert.Equal(t, "65000000", sent["makerAmount"])
	assert.Equal(t, "100000000", sent["takerAmount"])
	assert.Equal(t, float64(0), sent["side"])
	assert.NotEmpty(t, sent["signature"])
}

func TestSubmitOrderFOKNotMatched(t *testing.T) {
	srv := clobServer(t, APIOrderResult{Success: true, Status: "delayed"}, nil)
	defer srv.Close()

	signer := testSigner(t)
	exec := NewExecutor(NewClobClient(srv.URL, signer, nil), signer, nil, testLogger())

	_, err := exec.SubmitOrder(context.Background(), buyOrder(100, 0.65))
	require.ErrorIs(t, err, domain.ErrOrderRejected)
}

func TestSubmitOrderRejected(t *testing.T) {
	srv := clobServer(t, APIOrderResult{Success: false, ErrorMsg: "not enough balance"}, nil)
	defer srv.Close()

	signer := testSigner(t)
	exec := NewExecutor(NewClobClient(srv.URL, signer, nil), signer, nil, testLogger())

	_, err := exec.SubmitOrder(context.Background(), buyOrder(100, 0.65))
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Contains(t, err.Error(), "not enough balance")
}

func TestOrderStatusMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /order/exch-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(APIOrder{
			ID:          "exch-1",
			Status:      "MATCHED",
			Price:       "0.65",
			SizeMatched: "100",
			Market:      "0xcond",
		})
	})
	mux.HandleFunc("GET /order/exch-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(APIOrder{ID: "exch-2", Status: "LIVE"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	signer := testSigner(t)
	exec := NewExecutor(NewClobClient(srv.URL, signer, nil), signer, nil, testLogger())

	status, fill, err := exec.OrderStatus(context.Background(), "exch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, status)
	require.NotNil(t, fill)
	assert.InDelta(t, 100.0, fill.Size, 1e-9)
	assert.InDelta(t, 0.65, fill.Price, 1e-9)

	status, fill, err = exec.OrderStatus(context.Background(), "exch-2")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, status)
	assert.Nil(t, fill)
}

func TestCancelOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /order", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OrderID string `json:"orderID"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "exch-1", body.OrderID)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	signer := testSigner(t)
	exec := NewExecutor(NewClobClient(srv.URL, signer, nil), signer, nil, testLogger())

	require.NoError(t, exec.CancelOrder(context.Background(), "exch-1"))
}
