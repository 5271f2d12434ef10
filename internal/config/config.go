package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	PaystackSecretKey string
	PaystackBaseURL   string

	CurrencyCode      string
	PlanDefaultAmount int64
	PlanPremiumAmount int64

	OutboundTimeout    time.Duration
	RetryMaxAttempts   int
	RetryBase          time.Duration
	RetryJitterPercent float64

	CircuitMinRequests  int
	CircuitFailureRate  float64
	CircuitOpenDuration time.Duration

	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration
	RateLimitPay     string

	ReconcileInterval  time.Duration
	ReconcileAfter     time.Duration
	ReconcileBatchSize int
	LockTTL            time.Duration

	DBMaxOpenConns int
	DBMaxIdleConns int
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
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PaystackSecretKey: k.String("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:   valueOrDefault(k.String("PAYSTACK_BASE_URL"), "https://api.paystack.co"),

		CurrencyCode:      valueOrDefault(k.String("CURRENCY_CODE"), "NGN"),
		PlanDefaultAmount: parseInt64(k.String("PLAN_DEFAULT_AMOUNT"), 5000),
		PlanPremiumAmount: parseInt64(k.String("PLAN_PREMIUM_AMOUNT"), 7000),

		OutboundTimeout:    parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		RetryMaxAttempts:   parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:          parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryJitterPercent: parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),

		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRate:  parseFloat(k.String("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenDuration: parseDuration(k.String("CIRCUIT_OPEN_DURATION"), "30s"),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitPay:     valueOrDefault(k.String("RATE_LIMIT_PAY"), "30-M"),

		ReconcileInterval:  parseDuration(k.String("RECONCILE_INTERVAL"), "5m"),
		ReconcileAfter:     parseDuration(k.String("RECONCILE_AFTER"), "30m"),
		ReconcileBatchSize: parseInt(k.String("RECONCILE_BATCH_SIZE"), 100),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "2m"),

		DBMaxOpenConns: parseInt(k.String("DB_MAX_OPEN_CONNS"), 0),
		DBMaxIdleConns: parseInt(k.String("DB_MAX_IDLE_CONNS"), 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PaystackSecretKey == "" {
		return nil, errors.New("PAYSTACK_SECRET_KEY is required")
	}
	if cfg.PlanDefaultAmount <= 0 || cfg.PlanPremiumAmount <= 0 {
		return nil, errors.New("plan amounts must be positive")
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

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var out int
	if _, err := fmt.Sscanf(trimmed, "%d", &out); err != nil {
		return fallback
	}
	return out
}

func parseInt64(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var out int64
	if _, err := fmt.Sscanf(trimmed, "%d", &out); err != nil {
		return fallback
	}
	return out
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var out float64
	if _, err := fmt.Sscanf(trimmed, "%g", &out); err != nil {
		return fallback
	}
	return out
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
