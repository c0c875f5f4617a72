package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	RedisURL    string

	BackendBaseURL string
	BackendAPIKey  string
	BackendModel   string
	BackendTimeout time.Duration

	PricingPath string
	StoragePath string
	GeoIPDBPath string

	GenerationConcurrency int
	RetryAttempts         int
	RetryBackoff          time.Duration
	AgentMaxIterations    int

	AlertWebhookURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		RedisURL:    os.Getenv("REDIS_URL"),

		BackendBaseURL: os.Getenv("GENAI_BASE_URL"),
		BackendAPIKey:  os.Getenv("GENAI_API_KEY"),
		BackendModel:   getEnv("GENAI_MODEL", "atelier-edit-1"),
		BackendTimeout: time.Second * time.Duration(getEnvInt("GENAI_TIMEOUT_SECONDS", 60)),

		PricingPath: os.Getenv("PRICING_PATH"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		GenerationConcurrency: getEnvInt("GENERATION_CONCURRENCY", 4),
		RetryAttempts:         getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBackoff:          time.Second * time.Duration(getEnvInt("RETRY_BACKOFF_SECONDS", 2)),
		AgentMaxIterations:    getEnvInt("AGENT_MAX_ITERATIONS", 8),

		AlertWebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.BackendBaseURL == "" {
		return nil, fmt.Errorf("GENAI_BASE_URL is required")
	}
	if cfg.GenerationConcurrency <= 0 {
		cfg.GenerationConcurrency = 1
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.AgentMaxIterations <= 0 {
		cfg.AgentMaxIterations = 8
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
