package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatheredge/internal/domain"
)

type stubQuotes struct {
	quote domain.Quote
	err   error
}

func (s stubQuotes) Get(ctx context.Context, key string) (domain.Quote, error) {
	return s.quote, s.err
}

func (s stubQuotes) Put(ctx context.Context, key string, price float64, tag string) error {
	return nil
}

func revalidationProposal(side domain.Side, price float64) domain.TradeProposal {
	return domain.TradeProposal{
		ID:       "prop-1",
		MarketID: "will-it-hit-90f-in-nyc",
		Side:     side,
		Price:    price,
	}
}

func TestQuoteRevalidatorPassesWithinTolerance(t *testing.T) {
	validate := QuoteRevalidator(stubQuotes{quote: domain.Quote{Price: 0.66}}, 0.05)

	ok, reason, err := validate(context.Background(), revalidationProposal(domain.SideYes, 0.65))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestQuoteRevalidatorRejectsDrift(t *testing.T) {
	validate := QuoteRevalidator(stubQuotes{quote: domain.Quote{Price: 0.75}}, 0.05)

	ok, reason, err := validate(context.Background(), revalidationProposal(domain.SideYes, 0.65))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "price moved")
}

func TestQuoteRevalidatorComparesNoSide(t *testing.T) {
	// Cached YES at 0.66 implies NO at 0.34.
	validate := QuoteRevalidator(stubQuotes{quote: domain.Quote{Price: 0.66}}, 0.05)

	ok, _, err := validate(context.Background(), revalidationProposal(domain.SideNo, 0.35))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = validate(context.Background(), revalidationProposal(domain.SideNo, 0.50))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuoteRevalidatorPassesOnCacheMiss(t *testing.T) {
	validate := QuoteRevalidator(stubQuotes{err: domain.ErrNotFound}, 0.05)

	ok, reason, err := validate(context.Background(), revalidationProposal(domain.SideYes, 0.65))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, reason, "no live quote")
}

func TestQuoteRevalidatorRejectsStaleQuote(t *testing.T) {
	validate := QuoteRevalidator(stubQuotes{err: domain.ErrStaleQuote}, 0.05)

	ok, reason, err := validate(context.Background(), revalidationProposal(domain.SideYes, 0.65))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "stale")
}

func TestQuoteRevalidatorPropagatesCacheErrors(t *testing.T) {
	boom := errors.New("connection refused")
	validate := QuoteRevalidator(stubQuotes{err: boom}, 0.05)

	_, _, err := validate(context.Background(), revalidationProposal(domain.SideYes, 0.65))
	require.ErrorIs(t, err, boom)
}
