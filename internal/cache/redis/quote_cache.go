package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantbay/hedgedesk/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol's
// last premium is stored at key "quote:{symbol}" with fields "premium" and
// "ts" (Unix nanosecond timestamp), expiring after the configured TTL so a
// dead feed cannot serve hours-old prices.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. A zero ttl
// disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// SetQuote stores the latest premium and timestamp for a symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, symbol string, premium float64, ts time.Time) error {
	key := quoteKey(symbol)
	fields := map[string]interface{}{
		"premium": strconv.FormatFloat(premium, 'f', -1, 64),
		"ts":      strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest premium and timestamp for a symbol.
// It returns domain.ErrNotFound when the key does not exist or has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (float64, time.Time, error) {
	key := quoteKey(symbol)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	premiumStr, ok := vals["premium"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	premium, err := strconv.ParseFloat(premiumStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse premium %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return premium, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
