package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment. Every
// pricing policy value lives here so tests can exercise boundary values (a
// zero tax rate, a one-digit settlement code) without recompilation.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	// Pricing policy.
	TaxRateBPS       int
	CurrencyCode     string
	AddonQtyMin      int
	AddonQtyMax      int
	ProRataMinDays   int
	ProRataBaseDays  int
	SubscriptionTTL  time.Duration
	AddonTTL         time.Duration
	IdempotencyTTL   time.Duration
	SettlementMin    int
	SettlementMax    int
	SettlementTries  int
	InsertRetryLimit int

	// Static payment instructions shown with every pending transaction.
	BankName          string
	BankAccountNumber string
	BankAccountHolder string

	// Rate limiter fallback thresholds, used when the database-backed
	// settings are unavailable.
	RateLimitMax       int
	RateLimitWindow    time.Duration
	RateLimitCacheTTL  time.Duration
	RateLimitSweepEach time.Duration

	// Worker.
	ExpireSweepInterval time.Duration
	LockTTL             time.Duration
	LockRetryBackoff    time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),

		TaxRateBPS:       intOrDefault(k.String("PRICING_TAX_RATE_BPS"), 1100),
		CurrencyCode:     valueOrDefault(k.String("CURRENCY_CODE"), "IDR"),
		AddonQtyMin:      intOrDefault(k.String("ADDON_QTY_MIN"), 1),
		AddonQtyMax:      intOrDefault(k.String("ADDON_QTY_MAX"), 20),
		ProRataMinDays:   intOrDefault(k.String("PRORATA_MIN_DAYS"), 7),
		ProRataBaseDays:  intOrDefault(k.String("PRORATA_BASE_DAYS"), 30),
		SubscriptionTTL:  parseDuration(k.String("SUBSCRIPTION_PAYMENT_TTL"), "168h"),
		AddonTTL:         parseDuration(k.String("ADDON_PAYMENT_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		SettlementMin:    intOrDefault(k.String("SETTLEMENT_CODE_MIN"), 100),
		SettlementMax:    intOrDefault(k.String("SETTLEMENT_CODE_MAX"), 999),
		SettlementTries:  intOrDefault(k.String("SETTLEMENT_CODE_ATTEMPTS"), 10),
		InsertRetryLimit: intOrDefault(k.String("SETTLEMENT_INSERT_RETRIES"), 3),

		BankName:          valueOrDefault(k.String("PAYMENT_BANK_NAME"), "BCA"),
		BankAccountNumber: k.String("PAYMENT_BANK_ACCOUNT"),
		BankAccountHolder: k.String("PAYMENT_BANK_HOLDER"),

		RateLimitMax:       intOrDefault(k.String("RATE_LIMIT_MAX"), 10),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitCacheTTL:  parseDuration(k.String("RATE_LIMIT_CACHE_TTL"), "5m"),
		RateLimitSweepEach: parseDuration(k.String("RATE_LIMIT_SWEEP_EACH"), "1m"),

		ExpireSweepInterval: parseDuration(k.String("TX_EXPIRE_SWEEP_INTERVAL"), "1m"),
		LockTTL:             parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:    parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.TaxRateBPS < 0 {
		return nil, errors.New("PRICING_TAX_RATE_BPS must not be negative")
	}
	if cfg.SettlementMin < 0 || cfg.SettlementMax < cfg.SettlementMin {
		return nil, errors.New("settlement code range is invalid")
	}
	if cfg.AddonQtyMin < 1 || cfg.AddonQtyMax < cfg.AddonQtyMin {
		return nil, errors.New("add-on quantity bounds are invalid")
	}
	if cfg.ProRataBaseDays <= 0 {
		return nil, errors.New("PRORATA_BASE_DAYS must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
