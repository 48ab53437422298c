// Package feed streams CLOB market data into the quote cache.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"weatheredge/internal/domain"
	"weatheredge/internal/platform/polymarket"
)

const reconnectDelay = 2 * time.Second

// Subscription binds an outcome token id to the market and strategy tag its
// quotes are cached under.
type Subscription struct {
	AssetID     string
	MarketID    string
	StrategyTag string
}

// QuoteFeed subscribes to the CLOB WebSocket for a set of outcome tokens
// and writes every observed price into the quote cache. It reconnects with
// a fixed delay on disconnect.
type QuoteFeed struct {
	wsURL  string
	quotes domain.QuoteCache
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]Subscription // assetID -> subscription
}

// NewQuoteFeed creates a feed for the given subscriptions.
func NewQuoteFeed(wsURL string, quotes domain.QuoteCache, subs []Subscription, logger *slog.Logger) *QuoteFeed {
	byAsset := make(map[string]Subscription, len(subs))
	for _, s := range subs {
		byAsset[s.AssetID] = s
	}
	return &QuoteFeed{
		wsURL:  wsURL,
		quotes: quotes,
		logger: logger.With("component", "quote_feed"),
		subs:   byAsset,
	}
}

// Run connects and streams until ctx is cancelled, reconnecting on
// disconnect. Returns nil when there is nothing to subscribe to.
func (f *QuoteFeed) Run(ctx context.Context) error {
	assetIDs := f.assetIDs()
	if len(assetIDs) == 0 {
		f.logger.Info("no subscriptions, feed idle")
		return nil
	}

	for {
		client := polymarket.NewWSClient(f.wsURL)
		client.OnPrice(func(update polymarket.PriceUpdate) {
			f.onPrice(ctx, update)
		})

		f.logger.Info("connecting", "assets", len(assetIDs))
		err := client.Run(ctx, assetIDs)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *QuoteFeed) assetIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	return ids
}

func (f *QuoteFeed) onPrice(ctx context.Context, update polymarket.PriceUpdate) {
	f.mu.RLock()
	sub, ok := f.subs[update.AssetID]
	f.mu.RUnlock()
	if !ok {
		return
	}

	if err := f.quotes.Put(ctx, sub.MarketID, update.Price, sub.StrategyTag); err != nil {
		f.logger.Warn("quote cache write failed",
			"market_id", sub.MarketID,
			"error", err)
	}
}
