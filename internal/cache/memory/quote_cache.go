// Package memory provides an in-process quote cache for paper trading and
// tests, where a Redis instance is not worth standing up.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weatheredge/internal/domain"
)

// QuoteCache is a mutex-guarded map implementing domain.QuoteCache with the
// same staleness semantics as the Redis-backed cache.
type QuoteCache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

// NewQuoteCache creates an in-memory quote cache.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		ttl:    ttl,
		now:    time.Now,
		quotes: make(map[string]domain.Quote),
	}
}

func (qc *QuoteCache) Put(_ context.Context, key string, price float64, strategyTag string) error {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.quotes[key] = domain.Quote{
		Price:     price,
		Tag:       strategyTag,
		UpdatedAt: qc.now(),
	}
	return nil
}

func (qc *QuoteCache) Get(_ context.Context, key string) (domain.Quote, error) {
	qc.mu.RLock()
	quote, ok := qc.quotes[key]
	qc.mu.RUnlock()

	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	if qc.now().Sub(quote.UpdatedAt) > qc.ttl {
		return quote, fmt.Errorf("%w: %s updated %s", domain.ErrStaleQuote, key, quote.UpdatedAt.Format(time.RFC3339))
	}
	return quote, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
