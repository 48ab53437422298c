package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/domain"
)

func TestQuoteCachePutGet(t *testing.T) {
	qc := NewQuoteCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, qc.Put(ctx, "0xmarket", 0.65, "weather_edge"))

	quote, err := qc.Get(ctx, "0xmarket")
	require.NoError(t, err)
	assert.Equal(t, 0.65, quote.Price)
	assert.Equal(t, "weather_edge", quote.Tag)
}

func TestQuoteCacheMiss(t *testing.T) {
	qc := NewQuoteCache(time.Minute)

	_, err := qc.Get(context.Background(), "0xunknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuoteCacheStale(t *testing.T) {
	qc := NewQuoteCache(time.Minute)
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	qc.now = func() time.Time { return base }
	require.NoError(t, qc.Put(ctx, "0xmarket", 0.65, "weather_edge"))

	qc.now = func() time.Time { return base.Add(61 * time.Second) }
	_, err := qc.Get(ctx, "0xmarket")
	assert.ErrorIs(t, err, domain.ErrStaleQuote)
}
