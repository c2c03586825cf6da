// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process
// exits with an error. A .env file in the working directory is loaded first
// when present; real environment variables win over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the broker service.
type Config struct {
	Port     string
	GRPCPort string

	// Exactly one store backend; DatabaseURL wins when both are set.
	DatabaseURL string
	SQLitePath  string
	RedisURL    string // optional; events are dropped when empty

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	StripeSecretKey string
	PaymentCurrency string
	DemoMode        bool

	OfferWindow        time.Duration
	HighValueThreshold int
	ExpirySweepSpec    string
	MatchFallbackAll   bool
	RateCardPath       string
	DefaultLat         float64
	DefaultLng         float64

	// ContractorsSeedPath names a YAML file of contractors upserted at startup.
	ContractorsSeedPath string

	LogLevel  string
	LogFormat string
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            envOr("BROKER_PORT", "8083"),
		GRPCPort:        envOr("GRPC_PORT", "9093"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		RedisURL:        os.Getenv("REDIS_URL"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		PaymentCurrency: strings.ToUpper(envOr("PAYMENT_CURRENCY", "NOK")),
		ExpirySweepSpec: envOr("EXPIRY_SWEEP_SPEC", "@every 1m"),
		RateCardPath:    os.Getenv("RATE_CARD_PATH"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "text"),

		ContractorsSeedPath: os.Getenv("CONTRACTORS_SEED_PATH"),
	}

	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	var err error
	if cfg.DemoMode, err = boolEnv("DEMO_MODE", false); err != nil {
		return nil, err
	}
	if cfg.MatchFallbackAll, err = boolEnv("MATCH_FALLBACK_ALL", false); err != nil {
		return nil, err
	}
	if cfg.StripeSecretKey == "" && !cfg.DemoMode {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required unless DEMO_MODE=true")
	}

	if cfg.OfferWindow, err = durationEnv("OFFER_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HighValueThreshold, err = intEnv("HIGH_VALUE_THRESHOLD", 100000); err != nil {
		return nil, err
	}
	if cfg.DefaultLat, err = floatEnv("DEFAULT_LAT", 59.9139); err != nil {
		return nil, err
	}
	if cfg.DefaultLng, err = floatEnv("DEFAULT_LNG", 10.7522); err != nil {
		return nil, err
	}
	if cfg.DefaultLat < -90 || cfg.DefaultLat > 90 || cfg.DefaultLng < -180 || cfg.DefaultLng > 180 {
		return nil, fmt.Errorf("DEFAULT_LAT/DEFAULT_LNG out of range")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}
