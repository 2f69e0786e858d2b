package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Upstream services
	AccountAPIURL string // subscription status, account info, token verify
	DashboardURL  string // dashboard aggregate
	PushURL       string // websocket push channel

	// HTTP client
	HTTPTimeout time.Duration

	// Refresh coordinator
	SubscriptionPollInterval time.Duration
	DashboardPollInterval    time.Duration
	RefreshDebounce          time.Duration

	// DefaultTrialDays backs the trial-window fallback when the server
	// omits start/end timestamps. Flagged for product confirmation; kept
	// as configuration rather than a hard-coded constant.
	DefaultTrialDays int

	// Notices
	NoticeQueueSize int

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	DashboardCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret string

	// CORS
	AllowedOrigins []string

	// Identity persistence
	IdentityFile string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AccountAPIURL: getEnv("ACCOUNT_API_URL", "http://localhost:8081"),
		DashboardURL:  getEnv("DASHBOARD_API_URL", "http://localhost:8082"),
		PushURL:       getEnv("PUSH_CHANNEL_URL", "ws://localhost:8083/events"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		SubscriptionPollInterval: getEnvDuration("SUBSCRIPTION_POLL_INTERVAL", 5*time.Minute),
		DashboardPollInterval:    getEnvDuration("DASHBOARD_POLL_INTERVAL", 30*time.Second),
		RefreshDebounce:          getEnvDuration("REFRESH_DEBOUNCE", 1500*time.Millisecond),

		DefaultTrialDays: getEnvInt("DEFAULT_TRIAL_DAYS", 14),

		NoticeQueueSize: getEnvInt("NOTICE_QUEUE_SIZE", 32),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		DashboardCacheTTL: getEnvDuration("DASHBOARD_CACHE_TTL", 15*time.Second),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret: getEnv("JWT_SECRET", "pds-default-dev-secret-change-me"),

		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		IdentityFile: getEnv("IDENTITY_FILE", ".pds-identity.json"),
	}
}

// LoadDotEnv loads a .env file for local development. Existing env vars
// take precedence; a missing file is not an error worth surfacing.
func LoadDotEnv(path string) error {
	return godotenv.Load(path)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
