package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/market-data-service/internal/config"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/internal/services"
	"github.com/coinpulse/market-data-service/pkg/exchange"
)

const hourMs = int64(3_600_000)

func mkCandles(exchangeID, symbol, timeframe string, tfMs, start int64, n int) []models.Candle {
	candles := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(100 + int64(i))
		candles = append(candles, models.Candle{
			Exchange:  exchangeID,
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: start + int64(i)*tfMs,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1),
		})
	}
	return candles
}

type marketFixture struct {
	store   *memStore
	candles *memCandleCache
	tickers *memTickerCache
	client  *stubClient
	router  *gin.Engine
}

func newMarketFixture() *marketFixture {
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	cc := newMemCandleCache()
	tc := newMemTickerCache()
	client := newStubClient("binance")

	cfg := config.CollectionConfig{
		Exchanges:  []config.ExchangeConfig{{ID: "binance", Symbols: []string{"BTC/USDT", "ETH/USDT"}}},
		Timeframes: []string{"1h"},
	}
	market := services.NewMarketDataService(store, cc, tc, map[string]exchange.Client{"binance": client})
	h := NewMarketDataHandler(market, cfg)

	router := gin.New()
	router.GET("/api/v1/ohlcv/:exchange/*symbol", h.GetCandles)
	router.POST("/api/v1/ohlcv/batch", h.GetCandlesBatch)
	router.GET("/api/v1/ticker/:exchange/*symbol", h.GetTicker)
	router.GET("/api/v1/tickers/:exchange", h.GetAllTickers)

	return &marketFixture{store: store, candles: cc, tickers: tc, client: client, router: router}
}

func (f *marketFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *marketFixture) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGetCandles_Validation(t *testing.T) {
	f := newMarketFixture()

	tests := []struct {
		name string
		path string
	}{
		{"unknown exchange", "/api/v1/ohlcv/kraken/BTC/USDT"},
		{"malformed symbol", "/api/v1/ohlcv/binance/BTCUSDT"},
		{"unsupported timeframe", "/api/v1/ohlcv/binance/BTC/USDT?timeframe=7m"},
		{"start after end", "/api/v1/ohlcv/binance/BTC/USDT?start=5&end=1"},
		{"range too wide", fmt.Sprintf("/api/v1/ohlcv/binance/BTC/USDT?start=0&end=%d", 31*24*hourMs)},
		{"limit too small", "/api/v1/ohlcv/binance/BTC/USDT?limit=0"},
		{"limit too large", "/api/v1/ohlcv/binance/BTC/USDT?limit=1001"},
		{"bad cursor", "/api/v1/ohlcv/binance/BTC/USDT?cursor=abc"},
		{"bad start", "/api/v1/ohlcv/binance/BTC/USDT?start=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get(t, tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestGetCandles_FromStore(t *testing.T) {
	f := newMarketFixture()
	_, err := f.store.Upsert(nil, mkCandles("binance", "BTC/USDT", "1h", hourMs, 0, 5))
	require.NoError(t, err)

	w := f.get(t, "/api/v1/ohlcv/binance/BTC/USDT?timeframe=1h")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CandlePageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 5)
	assert.False(t, resp.Meta.Cached)
	assert.Nil(t, resp.Pagination.NextCursor)
}

func TestGetCandles_FromCache(t *testing.T) {
	f := newMarketFixture()
	require.NoError(t, f.candles.Put(nil, mkCandles("binance", "BTC/USDT", "1h", hourMs, 0, 3)))

	w := f.get(t, "/api/v1/ohlcv/binance/BTC/USDT?timeframe=1h")
	require.Equal(t, http.StatusOK, w.Code)

	var resp CandlePageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 3)
	assert.True(t, resp.Meta.Cached)
}

func TestGetCandles_Pagination(t *testing.T) {
	f := newMarketFixture()
	_, err := f.store.Upsert(nil, mkCandles("binance", "BTC/USDT", "1h", hourMs, 0, 7))
	require.NoError(t, err)

	w := f.get(t, "/api/v1/ohlcv/binance/BTC/USDT?timeframe=1h&limit=3")
	require.Equal(t, http.StatusOK, w.Code)

	var page1 CandlePageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page1))
	assert.Len(t, page1.Data, 3)
	require.NotNil(t, page1.Pagination.NextCursor)
	assert.Equal(t, 2*hourMs, *page1.Pagination.NextCursor)

	w = f.get(t, fmt.Sprintf("/api/v1/ohlcv/binance/BTC/USDT?timeframe=1h&limit=3&cursor=%d", *page1.Pagination.NextCursor))
	require.Equal(t, http.StatusOK, w.Code)

	var page2 CandlePageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page2))
	assert.Len(t, page2.Data, 3)
	assert.Equal(t, 3*hourMs, page2.Data[0].Timestamp)
}

func TestGetCandles_EmptyResultIsArray(t *testing.T) {
	f := newMarketFixture()

	w := f.get(t, "/api/v1/ohlcv/binance/BTC/USDT?timeframe=1h")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestGetCandlesBatch(t *testing.T) {
	f := newMarketFixture()
	_, err := f.store.Upsert(nil, mkCandles("binance", "BTC/USDT", "1h", hourMs, 0, 2))
	require.NoError(t, err)

	w := f.post(t, "/api/v1/ohlcv/batch", BatchCandlesRequest{
		Exchange:  "binance",
		Symbols:   []string{"BTC/USDT", "BTCUSDT"},
		Timeframe: "1h",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp BatchCandlesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "BTC/USDT", resp.Results[0].Symbol)
	assert.Len(t, resp.Results[0].Data, 2)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "BTCUSDT", resp.Errors[0].Symbol)
}

func TestGetCandlesBatch_Validation(t *testing.T) {
	f := newMarketFixture()

	w := f.post(t, "/api/v1/ohlcv/batch", BatchCandlesRequest{
		Exchange: "kraken", Symbols: []string{"BTC/USDT"}, Timeframe: "1h",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tooMany := make([]string, maxBatchSymbols+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("SYM%d/USDT", i)
	}
	w = f.post(t, "/api/v1/ohlcv/batch", BatchCandlesRequest{
		Exchange: "binance", Symbols: tooMany, Timeframe: "1h",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTicker_CachedAndLive(t *testing.T) {
	f := newMarketFixture()
	f.client.tickers["BTC/USDT"] = &models.Ticker{
		Exchange: "binance", Symbol: "BTC/USDT",
		Last: decimal.RequireFromString("43350.25"), Timestamp: 1703404800000,
	}

	// First request misses the cache and fetches live.
	w := f.get(t, "/api/v1/ticker/binance/BTC/USDT")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp TickerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Meta.Cached)
	assert.Equal(t, "BTC/USDT", resp.Data.Symbol)

	// Second request is served from the cache.
	w = f.get(t, "/api/v1/ticker/binance/BTC/USDT")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Meta.Cached)
}

func TestGetTicker_Errors(t *testing.T) {
	f := newMarketFixture()

	w := f.get(t, "/api/v1/ticker/kraken/BTC/USDT")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.get(t, "/api/v1/ticker/binance/BTCUSDT")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown symbol surfaces as an upstream failure.
	w = f.get(t, "/api/v1/ticker/binance/DOGE/USDT")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGetAllTickers(t *testing.T) {
	f := newMarketFixture()
	f.client.tickers["BTC/USDT"] = &models.Ticker{
		Exchange: "binance", Symbol: "BTC/USDT",
		Last: decimal.RequireFromString("43350.25"), Timestamp: 1703404800000,
	}

	w := f.get(t, "/api/v1/tickers/binance")
	require.Equal(t, http.StatusOK, w.Code)

	var resp AllTickersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "binance", resp.Exchange)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "BTC/USDT", resp.Data[0].Symbol)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "ETH/USDT", resp.Errors[0].Symbol)

	w = f.get(t, "/api/v1/tickers/kraken")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
