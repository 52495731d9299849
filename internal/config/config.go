package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/coinpulse/market-data-service/internal/models"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Gateway     GatewayConfig   `mapstructure:"gateway"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Collection  CollectionConfig `mapstructure:"collection"`
	Security    SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	PoolSize int    `mapstructure:"pool_size"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig points at the CCXT gateway sidecar that proxies
// exchange REST APIs.
type GatewayConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
}

type CacheConfig struct {
	CandleWindowSize int `mapstructure:"candle_window_size"`
	TickerTTLSeconds int `mapstructure:"ticker_ttl_seconds"`
}

// ExchangeConfig describes one configured exchange and the symbols
// collected from it.
type ExchangeConfig struct {
	ID      string   `mapstructure:"id"`
	APIKey  string   `mapstructure:"api_key"`
	Secret  string   `mapstructure:"secret"`
	Symbols []string `mapstructure:"symbols"`
}

type CollectionConfig struct {
	Exchanges         []ExchangeConfig `mapstructure:"exchanges"`
	Timeframes        []string         `mapstructure:"timeframes"`
	TickerInterval    string           `mapstructure:"ticker_interval"`
	GapFillEnabled    bool             `mapstructure:"gap_fill_enabled"`
	GapFillDays       int              `mapstructure:"gap_fill_days"`
	GapFillBatchDelay string           `mapstructure:"gap_fill_batch_delay"`
}

type SecurityConfig struct {
	APIToken string `mapstructure:"api_token" json:"-" yaml:"-"`
}

func Load() (*Config, error) {
	// Optional .env file, mirrors the container setup.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.api_token", "API_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind API_TOKEN environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(cfg *Config) error {
	if cfg.Cache.CandleWindowSize < 100 || cfg.Cache.CandleWindowSize > 2000 {
		return fmt.Errorf("cache.candle_window_size must be between 100 and 2000, got %d", cfg.Cache.CandleWindowSize)
	}
	if cfg.Cache.TickerTTLSeconds < 1 || cfg.Cache.TickerTTLSeconds > 60 {
		return fmt.Errorf("cache.ticker_ttl_seconds must be between 1 and 60, got %d", cfg.Cache.TickerTTLSeconds)
	}
	if cfg.Collection.GapFillDays < 1 || cfg.Collection.GapFillDays > 365 {
		return fmt.Errorf("collection.gap_fill_days must be between 1 and 365, got %d", cfg.Collection.GapFillDays)
	}
	if _, err := time.ParseDuration(cfg.Collection.TickerInterval); err != nil {
		return fmt.Errorf("invalid collection.ticker_interval: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Collection.GapFillBatchDelay); err != nil {
		return fmt.Errorf("invalid collection.gap_fill_batch_delay: %w", err)
	}
	for _, tf := range cfg.Collection.Timeframes {
		if !models.ValidTimeframe(tf) {
			return fmt.Errorf("unsupported timeframe in collection.timeframes: %s", tf)
		}
	}
	if cfg.Environment != "development" && cfg.Security.APIToken == "" {
		return fmt.Errorf("API_TOKEN is required in non-development environments")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "market_data")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.pool_size", 10)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("gateway.service_url", "http://localhost:3001")
	viper.SetDefault("gateway.timeout", 30)

	viper.SetDefault("cache.candle_window_size", 500)
	viper.SetDefault("cache.ticker_ttl_seconds", 10)

	viper.SetDefault("collection.timeframes", models.Timeframes())
	viper.SetDefault("collection.ticker_interval", "10s")
	viper.SetDefault("collection.gap_fill_enabled", true)
	viper.SetDefault("collection.gap_fill_days", 7)
	viper.SetDefault("collection.gap_fill_batch_delay", "1s")

	viper.SetDefault("security.api_token", "")
}

// SymbolsFor returns the configured symbols for an exchange, or nil if
// the exchange is not configured.
func (c *CollectionConfig) SymbolsFor(exchangeID string) []string {
	for _, ex := range c.Exchanges {
		if ex.ID == exchangeID {
			return ex.Symbols
		}
	}
	return nil
}

// ExchangeIDs returns the IDs of all configured exchanges.
func (c *CollectionConfig) ExchangeIDs() []string {
	ids := make([]string, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		ids = append(ids, ex.ID)
	}
	return ids
}
