package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpulse/market-data-service/internal/config"
	"github.com/coinpulse/market-data-service/internal/models"
)

// Client is the capability the collector and gap-fill paths need from
// an exchange: ordered candle fetches, ticker snapshots, and a
// connectivity probe.
type Client interface {
	ID() string
	// FetchOHLCV returns candles ascending by timestamp, starting at or
	// after since (milliseconds, 0 for latest), at most limit records.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	HealthCheck(ctx context.Context) error
}

// GatewayClient talks to the CCXT gateway sidecar, which proxies the
// actual exchange REST APIs behind a uniform JSON interface.
type GatewayClient struct {
	exchangeID string
	httpClient *http.Client
	baseURL    string
}

// NewGatewayClient creates a client bound to one exchange on the
// gateway.
func NewGatewayClient(exchangeID string, cfg config.GatewayConfig) *GatewayClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &GatewayClient{
		exchangeID: exchangeID,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.ServiceURL, "/"),
	}
}

func (c *GatewayClient) ID() string {
	return c.exchangeID
}

// ohlcvResponse is the gateway's candle payload: rows of
// [timestamp, open, high, low, close, volume].
type ohlcvResponse struct {
	OHLCV [][]json.Number `json:"ohlcv"`
}

type tickerResponse struct {
	Last        decimal.Decimal  `json:"last"`
	Bid         *decimal.Decimal `json:"bid"`
	Ask         *decimal.Decimal `json:"ask"`
	High        *decimal.Decimal `json:"high"`
	Low         *decimal.Decimal `json:"low"`
	QuoteVolume *decimal.Decimal `json:"quoteVolume"`
	Percentage  *decimal.Decimal `json:"percentage"`
	Timestamp   int64            `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func (c *GatewayClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]models.Candle, error) {
	path := fmt.Sprintf("/api/ohlcv/%s/%s", c.exchangeID, url.PathEscape(symbol))
	params := url.Values{}
	params.Set("timeframe", timeframe)
	if since > 0 {
		params.Set("since", strconv.FormatInt(since, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response ohlcvResponse
	if err := c.makeRequest(ctx, path+"?"+params.Encode(), symbol, &response); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(response.OHLCV))
	for _, row := range response.OHLCV {
		if len(row) < 6 {
			return nil, &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: "malformed ohlcv row"}
		}
		ts, err := row[0].Int64()
		if err != nil {
			return nil, &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: "malformed ohlcv timestamp"}
		}
		fields := make([]decimal.Decimal, 5)
		for i := 0; i < 5; i++ {
			d, err := decimal.NewFromString(row[i+1].String())
			if err != nil {
				return nil, &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: "malformed ohlcv value"}
			}
			fields[i] = d
		}
		candles = append(candles, models.Candle{
			Exchange:  c.exchangeID,
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: ts,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}
	return candles, nil
}

func (c *GatewayClient) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	path := fmt.Sprintf("/api/ticker/%s/%s", c.exchangeID, url.PathEscape(symbol))

	var response tickerResponse
	if err := c.makeRequest(ctx, path, symbol, &response); err != nil {
		return nil, err
	}

	ts := response.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	return &models.Ticker{
		Exchange:     c.exchangeID,
		Symbol:       symbol,
		Last:         response.Last,
		Bid:          response.Bid,
		Ask:          response.Ask,
		High24h:      response.High,
		Low24h:       response.Low,
		Volume24h:    response.QuoteVolume,
		ChangePct24h: response.Percentage,
		Timestamp:    ts,
	}, nil
}

func (c *GatewayClient) HealthCheck(ctx context.Context) error {
	return c.makeRequest(ctx, fmt.Sprintf("/api/time/%s", c.exchangeID), "", &struct{}{})
}

func (c *GatewayClient) makeRequest(ctx context.Context, path, symbol string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Exchange: c.exchangeID, RetryAfter: retryAfter(resp, body)}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: msg}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return &APIError{Exchange: c.exchangeID, Symbol: symbol, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// retryAfter resolves the pause duration for a 429: the Retry-After
// header wins, then the JSON body, then a 60s default matching typical
// exchange guidance.
func retryAfter(resp *http.Response, body []byte) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.RetryAfter > 0 {
		return time.Duration(errResp.RetryAfter) * time.Second
	}
	return 60 * time.Second
}
