// Package config loads process configuration from the environment, failing
// hard on anything load-bearing rather than falling back to a silent
// default (Design Notes §9: "replace ad-hoc module-level singletons ... with
// explicit configuration objects passed at construction").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/recio/trading-core/internal/domain"
)

// Config holds the store and market-feed configuration shared by every
// binary in the module.
type Config struct {
	DBHost     string
	DBName     string
	DBUser     string
	DBPassword string
	DBPort     int

	TradingSystemHost string

	UseWebSocketMarketData   bool
	WebSocketFallbackToHTTP  bool
	WebSocketTimeout         time.Duration
	WebSocketMaxRetries      int

	AuthEnabled bool

	LogLevel string
	DevMode  bool

	ServerPort int

	KalshiKeyID         string
	KalshiPrivateKeyPEM string
	KalshiAccountMode   string // "demo" or "prod"

	Users   []string
	Symbols []string

	TradeExecutorJournalPath string

	ActiveTradeWorkers int
}

// Load reads configuration from the environment, loading a local .env file
// first if present (teacher pattern: godotenv.Load() is best-effort).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBName:     getEnv("DB_NAME", ""),
		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBPort:     getEnvAsInt("DB_PORT", 5432),

		TradingSystemHost: os.Getenv("TRADING_SYSTEM_HOST"),

		UseWebSocketMarketData:  getEnvAsBool("USE_WEBSOCKET_MARKET_DATA", true),
		WebSocketFallbackToHTTP: getEnvAsBool("WEBSOCKET_FALLBACK_TO_HTTP", true),
		WebSocketTimeout:        time.Duration(getEnvAsInt("WEBSOCKET_TIMEOUT", 10)) * time.Second,
		WebSocketMaxRetries:     getEnvAsInt("WEBSOCKET_MAX_RETRIES", 3),

		AuthEnabled: getEnvAsBool("AUTH_ENABLED", true),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		ServerPort: getEnvAsInt("SERVER_PORT", 8000),

		KalshiKeyID:         os.Getenv("KALSHI_KEY_ID"),
		KalshiPrivateKeyPEM: os.Getenv("KALSHI_PRIVATE_KEY_PATH"),
		KalshiAccountMode:   getEnv("KALSHI_ACCOUNT_MODE", "demo"),

		Users:   getEnvAsList("REC_USERS", []string{"user_0001"}),
		Symbols: getEnvAsList("REC_SYMBOLS", []string{"BTC"}),

		TradeExecutorJournalPath: getEnv("TRADE_EXECUTOR_JOURNAL_PATH", "./data/executor_journal.db"),

		ActiveTradeWorkers: getEnvAsInt("ACTIVE_TRADE_WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces that every value the Store needs to connect is present.
// A missing name here is a ConfigError, not a zero-value fallback (§4.1).
func (c *Config) Validate() error {
	if c.DBName == "" {
		return &domain.ConfigError{Component: "config", Message: "DB_NAME is required"}
	}
	if c.DBUser == "" {
		return &domain.ConfigError{Component: "config", Message: "DB_USER is required"}
	}
	return nil
}

// DSN builds the lib/pq connection string for the store.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
