package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port           string
	GRPCAddr       string
	TrustedProxies []string
	RateLimit      int // mutating requests per minute per client

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string
	DataDir      string // seed files for the memory backend

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Currencies
	ReferenceCurrency          string
	BalanceFallbackCurrency    string
	AnalyticsFallbackCurrency  string
	AnalyticsDefaultCurrencyID int64
	DefaultBaseCurrencyID      int64

	// Caches
	CurrencyCacheTTL    time.Duration
	RateCacheTTL        time.Duration
	RateRefreshInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

var validBackends = []string{"sqlite", "postgres", "memory"}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCAddr:       getEnv("GRPC_ADDR", ""),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),
		RateLimit:      getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/saldo.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		DataDir:      getEnv("DATA_DIR", "data"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "saldo_exchange"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "account_balance_sync"),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "saldo.account-balance"),

		ReferenceCurrency:          strings.ToUpper(getEnv("REFERENCE_CURRENCY", "DOP")),
		BalanceFallbackCurrency:    strings.ToUpper(getEnv("BALANCE_FALLBACK_CURRENCY", "USD")),
		AnalyticsFallbackCurrency:  strings.ToUpper(getEnv("ANALYTICS_FALLBACK_CURRENCY", "DOP")),
		AnalyticsDefaultCurrencyID: int64(getEnvInt("ANALYTICS_DEFAULT_CURRENCY_ID", 1)),
		DefaultBaseCurrencyID:      int64(getEnvInt("DEFAULT_BASE_CURRENCY_ID", 0)),

		CurrencyCacheTTL:    getEnvDuration("CURRENCY_CACHE_TTL", time.Hour),
		RateCacheTTL:        getEnvDuration("RATE_CACHE_TTL", 5*time.Minute),
		RateRefreshInterval: getEnvDuration("RATE_REFRESH_INTERVAL", 5*time.Minute),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errors = append(errors, "Kafka topic cannot be empty when KAFKA_BROKERS is provided")
	}

	for name, code := range map[string]string{
		"REFERENCE_CURRENCY":          c.ReferenceCurrency,
		"BALANCE_FALLBACK_CURRENCY":   c.BalanceFallbackCurrency,
		"ANALYTICS_FALLBACK_CURRENCY": c.AnalyticsFallbackCurrency,
	} {
		if len(code) != 3 {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': must be a 3-letter currency code", name, code))
		}
	}
	if c.AnalyticsDefaultCurrencyID < 1 {
		errors = append(errors, fmt.Sprintf("invalid analytics default currency id %d: must be positive", c.AnalyticsDefaultCurrencyID))
	}
	if c.DefaultBaseCurrencyID < 0 {
		errors = append(errors, fmt.Sprintf("invalid default base currency id %d: must not be negative", c.DefaultBaseCurrencyID))
	}

	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimit))
	}
	if c.CurrencyCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid currency cache TTL %v: must be at least 1 second", c.CurrencyCacheTTL))
	}
	if c.RateCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid rate cache TTL %v: must be at least 1 second", c.RateCacheTTL))
	}
	if c.RateRefreshInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid rate refresh interval %v: must be at least 1 second", c.RateRefreshInterval))
	} else if c.RateRefreshInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid rate refresh interval %v: must be at most 24 hours", c.RateRefreshInterval))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
