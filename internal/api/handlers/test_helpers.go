package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/coinpulse/market-data-service/internal/database"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/pkg/exchange"
)

// In-memory doubles for handler tests. They mirror the contracts of
// the repository, the Redis caches, and the gateway client closely
// enough to exercise the handlers end to end.

func memKey(exchangeID, symbol, timeframe string) string {
	return exchangeID + ":" + symbol + ":" + timeframe
}

type memStore struct {
	mu   sync.Mutex
	rows map[string]map[int64]models.Candle
	err  error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]map[int64]models.Candle)}
}

func (m *memStore) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	for _, c := range candles {
		k := memKey(c.Exchange, c.Symbol, c.Timeframe)
		if m.rows[k] == nil {
			m.rows[k] = make(map[int64]models.Candle)
		}
		m.rows[k][c.Timestamp] = c
	}
	return len(candles), nil
}

func (m *memStore) Timestamps(ctx context.Context, exchangeID, symbol, timeframe string, since int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []int64
	for ts := range m.rows[memKey(exchangeID, symbol, timeframe)] {
		if ts >= since {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) Find(ctx context.Context, q database.FindQuery) ([]models.Candle, *int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}

	limit := q.Limit
	if limit <= 0 || limit > database.MaxFindLimit {
		limit = database.MaxFindLimit
	}

	var matched []models.Candle
	for ts, c := range m.rows[memKey(q.Exchange, q.Symbol, q.Timeframe)] {
		if q.Start != nil && ts < *q.Start {
			continue
		}
		if q.End != nil && ts > *q.End {
			continue
		}
		if q.Cursor != nil && ts <= *q.Cursor {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp < matched[j].Timestamp })

	var next *int64
	if len(matched) > limit {
		matched = matched[:limit]
		last := matched[len(matched)-1].Timestamp
		next = &last
	}
	return matched, next, nil
}

type memCandleCache struct {
	mu   sync.Mutex
	rows map[string][]models.Candle
}

func newMemCandleCache() *memCandleCache {
	return &memCandleCache{rows: make(map[string][]models.Candle)}
}

func (m *memCandleCache) Put(ctx context.Context, candles []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		k := memKey(c.Exchange, c.Symbol, c.Timeframe)
		m.rows[k] = append(m.rows[k], c)
	}
	return nil
}

func (m *memCandleCache) Get(ctx context.Context, exchangeID, symbol, timeframe string, start, end *int64, limit int) ([]models.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Candle
	for _, c := range m.rows[memKey(exchangeID, symbol, timeframe)] {
		if start != nil && c.Timestamp < *start {
			continue
		}
		if end != nil && c.Timestamp > *end {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTickerCache struct {
	mu   sync.Mutex
	rows map[string]*models.Ticker
}

func newMemTickerCache() *memTickerCache {
	return &memTickerCache{rows: make(map[string]*models.Ticker)}
}

func (m *memTickerCache) Put(ctx context.Context, ticker *models.Ticker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[ticker.Exchange+":"+ticker.Symbol] = ticker
	return nil
}

func (m *memTickerCache) Get(ctx context.Context, exchangeID, symbol string) (*models.Ticker, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[exchangeID+":"+symbol]
	return t, ok, nil
}

func (m *memTickerCache) Age(ctx context.Context, exchangeID, symbol string) (time.Duration, bool, error) {
	return 0, false, nil
}

type stubClient struct {
	id        string
	tickers   map[string]*models.Ticker
	healthErr error
}

func newStubClient(id string) *stubClient {
	return &stubClient{id: id, tickers: make(map[string]*models.Ticker)}
}

func (s *stubClient) ID() string { return s.id }

func (s *stubClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]models.Candle, error) {
	return nil, errors.New("not used in handler tests")
}

func (s *stubClient) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	t, ok := s.tickers[symbol]
	if !ok {
		return nil, &exchange.APIError{Exchange: s.id, Symbol: symbol, Message: "unknown symbol"}
	}
	return t, nil
}

func (s *stubClient) HealthCheck(ctx context.Context) error { return s.healthErr }
