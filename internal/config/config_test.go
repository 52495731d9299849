package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() *Config {
	return &Config{
		Environment: "development",
		Cache: CacheConfig{
			CandleWindowSize: 500,
			TickerTTLSeconds: 10,
		},
		Collection: CollectionConfig{
			Timeframes:        []string{"1m", "1h", "1d"},
			TickerInterval:    "10s",
			GapFillEnabled:    true,
			GapFillDays:       7,
			GapFillBatchDelay: "1s",
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "market_data", cfg.Database.DBName)
	assert.Equal(t, 500, cfg.Cache.CandleWindowSize)
	assert.Equal(t, 10, cfg.Cache.TickerTTLSeconds)
	assert.True(t, cfg.Collection.GapFillEnabled)
	assert.Equal(t, 7, cfg.Collection.GapFillDays)

	interval, err := time.ParseDuration(cfg.Collection.TickerInterval)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, interval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "candle window too small",
			mutate:  func(c *Config) { c.Cache.CandleWindowSize = 50 },
			wantErr: "candle_window_size",
		},
		{
			name:    "candle window too large",
			mutate:  func(c *Config) { c.Cache.CandleWindowSize = 5000 },
			wantErr: "candle_window_size",
		},
		{
			name:    "ticker ttl out of range",
			mutate:  func(c *Config) { c.Cache.TickerTTLSeconds = 120 },
			wantErr: "ticker_ttl_seconds",
		},
		{
			name:    "gap fill days zero",
			mutate:  func(c *Config) { c.Collection.GapFillDays = 0 },
			wantErr: "gap_fill_days",
		},
		{
			name:    "gap fill days above max",
			mutate:  func(c *Config) { c.Collection.GapFillDays = 400 },
			wantErr: "gap_fill_days",
		},
		{
			name:    "bad ticker interval",
			mutate:  func(c *Config) { c.Collection.TickerInterval = "ten seconds" },
			wantErr: "ticker_interval",
		},
		{
			name:    "unknown timeframe",
			mutate:  func(c *Config) { c.Collection.Timeframes = []string{"1h", "2d"} },
			wantErr: "timeframe",
		},
		{
			name:    "production requires token",
			mutate:  func(c *Config) { c.Environment = "production" },
			wantErr: "API_TOKEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCollectionConfigHelpers(t *testing.T) {
	coll := CollectionConfig{
		Exchanges: []ExchangeConfig{
			{ID: "binance", Symbols: []string{"BTC/USDT", "ETH/USDT"}},
			{ID: "okx", Symbols: []string{"BTC/USDT"}},
		},
	}

	assert.Equal(t, []string{"binance", "okx"}, coll.ExchangeIDs())
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, coll.SymbolsFor("binance"))
	assert.Nil(t, coll.SymbolsFor("kraken"))
}
