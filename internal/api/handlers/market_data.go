package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinpulse/market-data-service/internal/config"
	"github.com/coinpulse/market-data-service/internal/models"
	"github.com/coinpulse/market-data-service/internal/services"
)

const (
	defaultCandleLimit = 500
	maxCandleLimit     = 1000
	maxQueryRangeMs    = int64(30 * 24 * 60 * 60 * 1000)
	maxBatchSymbols    = 20
)

// MarketDataHandler serves the candle and ticker read endpoints.
type MarketDataHandler struct {
	market *services.MarketDataService
	cfg    config.CollectionConfig
}

// NewMarketDataHandler creates the market data handler.
func NewMarketDataHandler(market *services.MarketDataService, cfg config.CollectionConfig) *MarketDataHandler {
	return &MarketDataHandler{market: market, cfg: cfg}
}

// Pagination carries the cursor for the next page, when one exists.
type Pagination struct {
	NextCursor *int64 `json:"next_cursor"`
}

// CandleMeta describes how a candle page was served.
type CandleMeta struct {
	Cached  bool  `json:"cached"`
	QueryMs int64 `json:"query_ms"`
}

// CandlePageResponse is the OHLCV endpoint payload.
type CandlePageResponse struct {
	Data       []models.Candle `json:"data"`
	Pagination Pagination      `json:"pagination"`
	Meta       CandleMeta      `json:"meta"`
}

// TickerMeta describes a ticker snapshot's cache provenance.
type TickerMeta struct {
	Cached bool  `json:"cached"`
	AgeMs  int64 `json:"age_ms"`
}

// TickerResponse is the single-ticker endpoint payload.
type TickerResponse struct {
	Data *models.Ticker `json:"data"`
	Meta TickerMeta     `json:"meta"`
}

// parseSymbol extracts and validates a BASE/QUOTE pair from a wildcard
// route segment, which arrives with a leading slash.
func parseSymbol(raw string) (string, bool) {
	symbol := strings.TrimPrefix(raw, "/")
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return symbol, true
}

func parseOptionalInt64(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, false
	}
	return &v, true
}

// GetCandles handles GET /api/v1/ohlcv/:exchange/*symbol.
func (h *MarketDataHandler) GetCandles(c *gin.Context) {
	exchangeID := c.Param("exchange")
	if !h.market.KnownExchange(exchangeID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown exchange: " + exchangeID})
		return
	}

	symbol, ok := parseSymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol must be in BASE/QUOTE format"})
		return
	}

	timeframe := c.DefaultQuery("timeframe", "1h")
	if !models.ValidTimeframe(timeframe) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported timeframe: " + timeframe})
		return
	}

	start, ok := parseOptionalInt64(c, "start")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be a non-negative millisecond timestamp"})
		return
	}
	end, ok := parseOptionalInt64(c, "end")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be a non-negative millisecond timestamp"})
		return
	}
	if start != nil && end != nil {
		if *start > *end {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must not be after end"})
			return
		}
		if *end-*start > maxQueryRangeMs {
			c.JSON(http.StatusBadRequest, gin.H{"error": "time range must not exceed 30 days"})
			return
		}
	}

	limit := defaultCandleLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxCandleLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = v
	}

	cursor, ok := parseOptionalInt64(c, "cursor")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cursor must be a non-negative millisecond timestamp"})
		return
	}

	started := time.Now()
	result, err := h.market.FindCandles(c.Request.Context(), services.FindCandlesRequest{
		Exchange:  exchangeID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     start,
		End:       end,
		Limit:     limit,
		Cursor:    cursor,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query candles"})
		return
	}

	if result.Candles == nil {
		result.Candles = []models.Candle{}
	}
	c.JSON(http.StatusOK, CandlePageResponse{
		Data:       result.Candles,
		Pagination: Pagination{NextCursor: result.NextCursor},
		Meta: CandleMeta{
			Cached:  result.Cached,
			QueryMs: time.Since(started).Milliseconds(),
		},
	})
}

// BatchCandlesRequest asks for the same candle window across several
// symbols of one exchange.
type BatchCandlesRequest struct {
	Exchange  string   `json:"exchange" binding:"required"`
	Symbols   []string `json:"symbols" binding:"required"`
	Timeframe string   `json:"timeframe" binding:"required"`
	Start     *int64   `json:"start"`
	End       *int64   `json:"end"`
	Limit     int      `json:"limit"`
}

// BatchSymbolCandles is one symbol's slice of a batch response.
type BatchSymbolCandles struct {
	Symbol string          `json:"symbol"`
	Data   []models.Candle `json:"data"`
	Cached bool            `json:"cached"`
}

// BatchCandlesResponse aggregates per-symbol results and failures.
type BatchCandlesResponse struct {
	Results []BatchSymbolCandles   `json:"results"`
	Errors  []services.SymbolError `json:"errors"`
}

// GetCandlesBatch handles POST /api/v1/ohlcv/batch. Symbol failures do
// not abort the batch.
func (h *MarketDataHandler) GetCandlesBatch(c *gin.Context) {
	var req BatchCandlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if !h.market.KnownExchange(req.Exchange) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown exchange: " + req.Exchange})
		return
	}
	if len(req.Symbols) == 0 || len(req.Symbols) > maxBatchSymbols {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols must contain between 1 and 20 entries"})
		return
	}
	if !models.ValidTimeframe(req.Timeframe) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported timeframe: " + req.Timeframe})
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultCandleLimit
	}
	if limit < 1 || limit > maxCandleLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
		return
	}

	response := BatchCandlesResponse{
		Results: make([]BatchSymbolCandles, 0, len(req.Symbols)),
		Errors:  []services.SymbolError{},
	}
	for _, symbol := range req.Symbols {
		if _, ok := parseSymbol("/" + symbol); !ok {
			response.Errors = append(response.Errors, services.SymbolError{
				Symbol: symbol, Error: "symbol must be in BASE/QUOTE format",
			})
			continue
		}
		result, err := h.market.FindCandles(c.Request.Context(), services.FindCandlesRequest{
			Exchange:  req.Exchange,
			Symbol:    symbol,
			Timeframe: req.Timeframe,
			Start:     req.Start,
			End:       req.End,
			Limit:     limit,
		})
		if err != nil {
			response.Errors = append(response.Errors, services.SymbolError{
				Symbol: symbol, Error: "failed to query candles",
			})
			continue
		}
		if result.Candles == nil {
			result.Candles = []models.Candle{}
		}
		response.Results = append(response.Results, BatchSymbolCandles{
			Symbol: symbol,
			Data:   result.Candles,
			Cached: result.Cached,
		})
	}

	c.JSON(http.StatusOK, response)
}

// GetTicker handles GET /api/v1/ticker/:exchange/*symbol.
func (h *MarketDataHandler) GetTicker(c *gin.Context) {
	exchangeID := c.Param("exchange")
	symbol, ok := parseSymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol must be in BASE/QUOTE format"})
		return
	}

	result, err := h.market.FindTicker(c.Request.Context(), exchangeID, symbol)
	if err != nil {
		if errors.Is(err, services.ErrUnknownExchange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown exchange: " + exchangeID})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch ticker: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, TickerResponse{
		Data: result.Ticker,
		Meta: TickerMeta{Cached: result.Cached, AgeMs: result.Age.Milliseconds()},
	})
}

// AllTickersResponse is the bulk ticker payload for one exchange.
type AllTickersResponse struct {
	Exchange string                 `json:"exchange"`
	Data     []*models.Ticker       `json:"data"`
	Errors   []services.SymbolError `json:"errors"`
}

// GetAllTickers handles GET /api/v1/tickers/:exchange, resolving every
// configured symbol for the exchange.
func (h *MarketDataHandler) GetAllTickers(c *gin.Context) {
	exchangeID := c.Param("exchange")
	if !h.market.KnownExchange(exchangeID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown exchange: " + exchangeID})
		return
	}

	symbols := h.cfg.SymbolsFor(exchangeID)
	results, failures := h.market.FindAllTickers(c.Request.Context(), exchangeID, symbols)

	response := AllTickersResponse{
		Exchange: exchangeID,
		Data:     make([]*models.Ticker, 0, len(results)),
		Errors:   []services.SymbolError{},
	}
	for _, r := range results {
		response.Data = append(response.Data, r.Ticker)
	}
	response.Errors = append(response.Errors, failures...)

	c.JSON(http.StatusOK, response)
}
