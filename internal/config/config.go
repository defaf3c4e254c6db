package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Telegram
	TelegramToken  string
	TelegramChatID int64
	AlertChannel   string // numeric chat id or @channelname
	AllowedUsers   []int64

	// Mode
	Debug     bool
	LogFormat string

	// CoinGlass API
	CoinGlassAPIKey       string
	CoinGlassBaseURL      string
	CoinGlassRateLimit    int // calls per minute
	CoinGlassTimeout      time.Duration
	CoinGlassMaxRetries   int
	CoinGlassRetryBackoff time.Duration
	SymbolCacheTTL        time.Duration

	// Monitors
	MonitorSymbols          []string
	LiquidationExchange     string
	WhaleThresholdUSD       decimal.Decimal
	LiquidationThresholdUSD decimal.Decimal
	FundingRateThreshold    decimal.Decimal // percent, 1.0 = 1%
	SignalMinConfidence     float64
	AlertCooldown           time.Duration
	WhalePollInterval       time.Duration
	LiquidationPollInterval time.Duration
	FundingPollInterval     time.Duration

	// Feature flags
	EnableWhaleAlerts       bool
	EnableLiquidationAlerts bool
	EnableFundingAlerts     bool
	EnableBroadcastAlerts   bool
	NotifySubscribers       bool

	// Outbox
	DispatchInterval  time.Duration
	DispatchBatchSize int
	AlertRetention    time.Duration
	CleanupInterval   time.Duration

	// HTTP API
	APIEnabled   bool
	APIAddr      string
	APIToken     string
	APIRateLimit int // requests per minute per client
	RedisURL     string

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		AlertChannel:  os.Getenv("ALERT_CHANNEL_ID"),

		Debug:     getEnvBool("DEBUG", false),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		// CoinGlass
		CoinGlassAPIKey:       os.Getenv("COINGLASS_API_KEY"),
		CoinGlassBaseURL:      getEnv("COINGLASS_BASE_URL", "https://open-api-v4.coinglass.com"),
		CoinGlassRateLimit:    getEnvInt("COINGLASS_RATE_LIMIT", 30),
		CoinGlassTimeout:      getEnvDuration("COINGLASS_TIMEOUT", 30*time.Second),
		CoinGlassMaxRetries:   getEnvInt("COINGLASS_MAX_RETRIES", 3),
		CoinGlassRetryBackoff: getEnvDuration("COINGLASS_RETRY_BACKOFF", 5*time.Second),
		SymbolCacheTTL:        getEnvDuration("SYMBOL_CACHE_TTL", 10*time.Minute),

		// Monitors
		MonitorSymbols:          getEnvList("MONITOR_SYMBOLS", []string{"BTC", "ETH", "SOL"}),
		LiquidationExchange:     getEnv("LIQUIDATION_EXCHANGE", "Binance"),
		WhaleThresholdUSD:       getEnvDecimal("WHALE_THRESHOLD_USD", decimal.NewFromInt(500_000)),
		LiquidationThresholdUSD: getEnvDecimal("LIQUIDATION_THRESHOLD_USD", decimal.NewFromInt(1_000_000)),
		FundingRateThreshold:    getEnvDecimal("FUNDING_RATE_THRESHOLD", decimal.NewFromFloat(1.0)),
		SignalMinConfidence:     getEnvFloat("SIGNAL_MIN_CONFIDENCE", 0.35),
		AlertCooldown:           getEnvDuration("ALERT_COOLDOWN", 5*time.Minute),
		WhalePollInterval:       getEnvDuration("WHALE_POLL_INTERVAL", 10*time.Second),
		LiquidationPollInterval: getEnvDuration("LIQUIDATION_POLL_INTERVAL", 30*time.Second),
		FundingPollInterval:     getEnvDuration("FUNDING_POLL_INTERVAL", 60*time.Second),

		// Feature flags
		EnableWhaleAlerts:       getEnvBool("ENABLE_WHALE_ALERTS", true),
		EnableLiquidationAlerts: getEnvBool("ENABLE_LIQUIDATION_ALERTS", true),
		EnableFundingAlerts:     getEnvBool("ENABLE_FUNDING_ALERTS", true),
		EnableBroadcastAlerts:   getEnvBool("ENABLE_BROADCAST_ALERTS", true),
		NotifySubscribers:       getEnvBool("NOTIFY_SUBSCRIBERS", false),

		// Outbox
		DispatchInterval:  getEnvDuration("DISPATCH_INTERVAL", 30*time.Second),
		DispatchBatchSize: getEnvInt("DISPATCH_BATCH_SIZE", 10),
		AlertRetention:    getEnvDuration("ALERT_RETENTION", 7*24*time.Hour),
		CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL", 6*time.Hour),

		// HTTP API
		APIEnabled:   getEnvBool("API_ENABLED", true),
		APIAddr:      getEnv("API_ADDR", ":8000"),
		APIToken:     os.Getenv("API_TOKEN"),
		APIRateLimit: getEnvInt("API_RATE_LIMIT", 60),
		RedisURL:     os.Getenv("REDIS_URL"),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "data/glasswatch.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	users, err := parseIDList(os.Getenv("ALLOWED_USERS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOWED_USERS: %w", err)
	}
	cfg.AllowedUsers = users

	if cfg.CoinGlassRateLimit <= 0 {
		return nil, fmt.Errorf("COINGLASS_RATE_LIMIT must be positive")
	}

	return cfg, nil
}

// ValidateBot checks the settings needed to start the Telegram side.
func (c *Config) ValidateBot() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.CoinGlassAPIKey == "" {
		return fmt.Errorf("COINGLASS_API_KEY is required")
	}
	return nil
}

// IsAllowed reports whether a Telegram user may use the bot.
// An empty whitelist means the bot is public.
func (c *Config) IsAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		value = strings.ToLower(value)
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func parseIDList(value string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
