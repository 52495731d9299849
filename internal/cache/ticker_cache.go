package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinpulse/market-data-service/internal/models"
)

// TickerCache is a short-TTL point cache for ticker snapshots. Entries
// are fully replaced on every refresh and expire automatically; tickers
// have no durable counterpart.
type TickerCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewTickerCache creates a TTL point cache for tickers.
func NewTickerCache(redisClient *redis.Client, ttl time.Duration) *TickerCache {
	return &TickerCache{
		redis:  redisClient,
		ttl:    ttl,
		prefix: "ticker:",
	}
}

func (c *TickerCache) key(exchange, symbol string) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, exchange, symbol)
}

// Put stores a ticker with an expiration deadline of now + TTL.
func (c *TickerCache) Put(ctx context.Context, ticker *models.Ticker) error {
	data, err := json.Marshal(ticker)
	if err != nil {
		return fmt.Errorf("failed to serialize ticker: %w", err)
	}
	if err := c.redis.SetEx(ctx, c.key(ticker.Exchange, ticker.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache ticker: %w", err)
	}
	return nil
}

// Get returns the cached ticker if it has not expired yet. The second
// return value reports whether there was a hit.
func (c *TickerCache) Get(ctx context.Context, exchange, symbol string) (*models.Ticker, bool, error) {
	data, err := c.redis.Get(ctx, c.key(exchange, symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read ticker cache: %w", err)
	}

	var ticker models.Ticker
	if err := json.Unmarshal([]byte(data), &ticker); err != nil {
		return nil, false, fmt.Errorf("failed to deserialize cached ticker: %w", err)
	}
	return &ticker, true, nil
}

// Age returns how long ago the cached ticker was written, derived from
// the remaining TTL. Returns false when no entry exists.
func (c *TickerCache) Age(ctx context.Context, exchange, symbol string) (time.Duration, bool, error) {
	remaining, err := c.redis.TTL(ctx, c.key(exchange, symbol)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read ticker TTL: %w", err)
	}
	if remaining <= 0 {
		return 0, false, nil
	}
	return c.ttl - remaining, true, nil
}
