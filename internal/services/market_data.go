package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coinpulse/market-data-service/internal/database"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/pkg/exchange"
)

// cacheEligibleLimit is the largest page the recency cache can answer.
// Bigger requests, and any cursor-paginated request, go straight to the
// durable store.
const cacheEligibleLimit = 500

// TickerCacher is the point-cache capability for tickers, satisfied by
// *cache.TickerCache.
type TickerCacher interface {
	Put(ctx context.Context, ticker *models.Ticker) error
	Get(ctx context.Context, exchangeID, symbol string) (*models.Ticker, bool, error)
	Age(ctx context.Context, exchangeID, symbol string) (time.Duration, bool, error)
}

// FindCandlesRequest describes one candle page read.
type FindCandlesRequest struct {
	Exchange  string
	Symbol    string
	Timeframe string
	Start     *int64
	End       *int64
	Limit     int
	Cursor    *int64
}

// FindCandlesResult carries a page plus where it was served from.
type FindCandlesResult struct {
	Candles    []models.Candle
	NextCursor *int64
	Cached     bool
}

// TickerResult carries a ticker snapshot plus its cache provenance.
type TickerResult struct {
	Ticker *models.Ticker
	Cached bool
	Age    time.Duration
}

// MarketDataService fronts the two-tier candle store and the ticker
// cache. Writes go to the durable store first, then the cache, so a
// cache failure never loses data.
type MarketDataService struct {
	store   CandleStore
	candles CandleCacher
	tickers TickerCacher
	clients map[string]exchange.Client
	logger  *logrus.Entry
}

// NewMarketDataService wires the read/write paths over the store,
// caches, and exchange clients.
func NewMarketDataService(store CandleStore, candles CandleCacher, tickers TickerCacher, clients map[string]exchange.Client) *MarketDataService {
	return &MarketDataService{
		store:   store,
		candles: candles,
		tickers: tickers,
		clients: clients,
		logger:  logrus.WithField("component", "market_data"),
	}
}

// SaveCandles upserts a batch and refreshes the recency cache. The
// returned count is rows written to the store.
func (s *MarketDataService) SaveCandles(ctx context.Context, candles []models.Candle) (int, error) {
	written, err := s.store.Upsert(ctx, candles)
	if err != nil {
		return 0, err
	}
	if err := s.candles.Put(ctx, candles); err != nil {
		s.logger.WithError(err).Warn("Failed to refresh candle cache after save")
	}
	return written, nil
}

// FindCandles serves a candle page, preferring the recency cache for
// small uncursored reads. An empty cache result falls through to the
// store; only a non-empty cache answer counts as a hit.
func (s *MarketDataService) FindCandles(ctx context.Context, req FindCandlesRequest) (FindCandlesResult, error) {
	if req.Cursor == nil && req.Limit > 0 && req.Limit <= cacheEligibleLimit {
		cached, err := s.candles.Get(ctx, req.Exchange, req.Symbol, req.Timeframe, req.Start, req.End, req.Limit)
		if err != nil {
			s.logger.WithError(err).Warn("Candle cache read failed, falling back to store")
		} else if len(cached) > 0 {
			return FindCandlesResult{Candles: cached, Cached: true}, nil
		}
	}

	candles, nextCursor, err := s.store.Find(ctx, database.FindQuery{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.Start,
		End:       req.End,
		Limit:     req.Limit,
		Cursor:    req.Cursor,
	})
	if err != nil {
		return FindCandlesResult{}, err
	}
	return FindCandlesResult{Candles: candles, NextCursor: nextCursor}, nil
}

// FindTicker returns the cached snapshot when fresh, otherwise fetches
// a live one, caches it, and returns it.
func (s *MarketDataService) FindTicker(ctx context.Context, exchangeID, symbol string) (TickerResult, error) {
	cached, hit, err := s.tickers.Get(ctx, exchangeID, symbol)
	if err != nil {
		s.logger.WithError(err).Warn("Ticker cache read failed, fetching live")
	} else if hit {
		age, _, ageErr := s.tickers.Age(ctx, exchangeID, symbol)
		if ageErr != nil {
			age = 0
		}
		return TickerResult{Ticker: cached, Cached: true, Age: age}, nil
	}

	return s.RefreshTicker(ctx, exchangeID, symbol)
}

// RefreshTicker fetches a live snapshot and caches it, bypassing any
// cached entry.
func (s *MarketDataService) RefreshTicker(ctx context.Context, exchangeID, symbol string) (TickerResult, error) {
	client, ok := s.clients[exchangeID]
	if !ok {
		return TickerResult{}, fmt.Errorf("%w: %s", ErrUnknownExchange, exchangeID)
	}

	ticker, err := client.FetchTicker(ctx, symbol)
	if err != nil {
		return TickerResult{}, err
	}
	if err := s.tickers.Put(ctx, ticker); err != nil {
		s.logger.WithError(err).Warn("Failed to cache ticker")
	}
	return TickerResult{Ticker: ticker}, nil
}

// SymbolError pairs a symbol with the error it produced inside a batch
// operation.
type SymbolError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// FindAllTickers resolves tickers for a symbol list, collecting
// per-symbol failures instead of aborting the batch.
func (s *MarketDataService) FindAllTickers(ctx context.Context, exchangeID string, symbols []string) ([]TickerResult, []SymbolError) {
	results := make([]TickerResult, 0, len(symbols))
	var failures []SymbolError
	for _, symbol := range symbols {
		res, err := s.FindTicker(ctx, exchangeID, symbol)
		if err != nil {
			failures = append(failures, SymbolError{Symbol: symbol, Error: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, failures
}

// KnownExchange reports whether an exchange client is configured.
func (s *MarketDataService) KnownExchange(exchangeID string) bool {
	_, ok := s.clients[exchangeID]
	return ok
}

// Exchanges returns the configured exchange clients, keyed by id.
func (s *MarketDataService) Exchanges() map[string]exchange.Client {
	return s.clients
}
