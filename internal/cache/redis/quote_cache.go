package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"weatheredge/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each market's
// quote is stored at key "quote:{marketID}" with fields "price", "tag" and
// "ts" (Unix nanosecond timestamp).
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Quotes
// older than ttl are reported stale on read.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		rdb: c.Underlying(),
		ttl: ttl,
		now: time.Now,
	}
}

func quoteKey(marketID string) string {
	return "quote:" + marketID
}

// Put stores the latest quote for a market. The Redis key expires at twice
// the staleness TTL so abandoned markets age out on their own.
func (qc *QuoteCache) Put(ctx context.Context, key string, price float64, strategyTag string) error {
	k := quoteKey(key)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"tag":   strategyTag,
		"ts":    strconv.FormatInt(qc.now().UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, k, fields)
	pipe.Expire(ctx, k, 2*qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put quote %s: %w", key, err)
	}
	return nil
}

// Get retrieves the latest quote for a market. It returns domain.ErrNotFound
// when the key does not exist and domain.ErrStaleQuote when the stored quote
// is older than the configured TTL.
func (qc *QuoteCache) Get(ctx context.Context, key string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(key)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote price %s: %w", key, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote ts %s: %w", key, err)
	}

	quote := domain.Quote{
		Price:     price,
		Tag:       vals["tag"],
		UpdatedAt: time.Unix(0, tsNano),
	}
	if qc.now().Sub(quote.UpdatedAt) > qc.ttl {
		return quote, fmt.Errorf("%w: %s updated %s", domain.ErrStaleQuote, key, quote.UpdatedAt.Format(time.RFC3339))
	}
	return quote, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
