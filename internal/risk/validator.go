package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"weatheredge/internal/domain"
)

// QuoteRevalidator builds a gate-9 validator that re-confirms a proposal's
// price against the live quote cache just before approval. A proposal
// computed from a quote that has since moved more than tolerance (as a
// fraction of the proposal price) is rejected; a stale quote is likewise
// rejected. Markets with no cached quote pass, since there is no live feed
// to confirm against.
func QuoteRevalidator(quotes domain.QuoteCache, tolerance float64) ExternalValidator {
	return func(ctx context.Context, p domain.TradeProposal) (bool, string, error) {
		quote, err := quotes.Get(ctx, p.MarketID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return true, "no live quote to confirm against", nil
		case errors.Is(err, domain.ErrStaleQuote):
			return false, "live quote is stale", nil
		case err != nil:
			return false, "", fmt.Errorf("risk: quote revalidation: %w", err)
		}

		// The cache holds the YES price; compare against the side the
		// proposal actually prices.
		expected := quote.Price
		if p.Side == domain.SideNo {
			expected = 1.0 - quote.Price
		}

		drift := math.Abs(expected - p.Price)
		if p.Price > 0 && drift/p.Price > tolerance {
			return false, fmt.Sprintf("price moved since proposal: quoted %.4f, proposed %.4f", expected, p.Price), nil
		}
		return true, "", nil
	}
}
