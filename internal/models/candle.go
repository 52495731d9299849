package models

import (
	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV period for a trading pair on an exchange.
// Rows are unique on (exchange, symbol, timeframe, timestamp) and are
// only ever written through the upsert path; repeated writes of the
// same key overwrite the price fields.
type Candle struct {
	Exchange  string          `json:"exchange" db:"exchange"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Timeframe string          `json:"timeframe" db:"timeframe"`
	Timestamp int64           `json:"timestamp" db:"timestamp"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
}

// Ticker represents a real-time market snapshot. Tickers are cached in
// Redis with a short TTL and are never persisted.
type Ticker struct {
	Exchange     string           `json:"exchange"`
	Symbol       string           `json:"symbol"`
	Last         decimal.Decimal  `json:"last"`
	Bid          *decimal.Decimal `json:"bid,omitempty"`
	Ask          *decimal.Decimal `json:"ask,omitempty"`
	High24h      *decimal.Decimal `json:"high_24h,omitempty"`
	Low24h       *decimal.Decimal `json:"low_24h,omitempty"`
	Volume24h    *decimal.Decimal `json:"volume_24h,omitempty"`
	ChangePct24h *decimal.Decimal `json:"change_pct_24h,omitempty"`
	Timestamp    int64            `json:"timestamp"`
}
