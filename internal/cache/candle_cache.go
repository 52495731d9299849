package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/coinpulse/market-data-service/internal/models"
)

// CandleCache keeps the most recent candles per (exchange, symbol,
// timeframe) key in a Redis sorted set scored by timestamp. Every write
// trims the set so cardinality never exceeds maxSize; trimming removes
// the lowest scores first, so the cache always holds the newest window
// regardless of insertion order.
type CandleCache struct {
	redis   *redis.Client
	maxSize int
	prefix  string
}

// NewCandleCache creates a bounded recency cache for candles.
func NewCandleCache(redisClient *redis.Client, maxSize int) *CandleCache {
	return &CandleCache{
		redis:   redisClient,
		maxSize: maxSize,
		prefix:  "ohlcv:",
	}
}

func (c *CandleCache) key(exchange, symbol, timeframe string) string {
	return fmt.Sprintf("%s%s:%s:%s", c.prefix, exchange, symbol, timeframe)
}

// Put inserts candles and re-establishes the size bound per key. Candles
// may span multiple keys; each key is trimmed independently.
func (c *CandleCache) Put(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	byKey := make(map[string][]models.Candle)
	for _, candle := range candles {
		k := c.key(candle.Exchange, candle.Symbol, candle.Timeframe)
		byKey[k] = append(byKey[k], candle)
	}

	pipe := c.redis.Pipeline()
	for k, recs := range byKey {
		members := make([]redis.Z, 0, len(recs))
		for _, r := range recs {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to serialize candle: %w", err)
			}
			members = append(members, redis.Z{Score: float64(r.Timestamp), Member: string(data)})
		}
		pipe.ZAdd(ctx, k, members...)
		// Keep only the maxSize newest entries.
		pipe.ZRemRangeByRank(ctx, k, 0, int64(-(c.maxSize + 1)))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache candles: %w", err)
	}
	return nil
}

// Get reads up to limit candles for a key in ascending timestamp order,
// optionally bounded by start/end (inclusive, milliseconds). An empty
// result is the cache-miss signal; callers fall back to the durable
// store.
func (c *CandleCache) Get(ctx context.Context, exchange, symbol, timeframe string, start, end *int64, limit int) ([]models.Candle, error) {
	min := "-inf"
	if start != nil {
		min = strconv.FormatInt(*start, 10)
	}
	max := "+inf"
	if end != nil {
		max = strconv.FormatInt(*end, 10)
	}

	members, err := c.redis.ZRangeByScore(ctx, c.key(exchange, symbol, timeframe), &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read candle cache: %w", err)
	}

	candles := make([]models.Candle, 0, len(members))
	for _, m := range members {
		var candle models.Candle
		if err := json.Unmarshal([]byte(m), &candle); err != nil {
			return nil, fmt.Errorf("failed to deserialize cached candle: %w", err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// Size returns the current cardinality for a key.
func (c *CandleCache) Size(ctx context.Context, exchange, symbol, timeframe string) (int64, error) {
	return c.redis.ZCard(ctx, c.key(exchange, symbol, timeframe)).Result()
}
