package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime setting, populated from the environment with
// sensible defaults.
type Config struct {
	Environment string
	Host        string
	Port        string
	CORSOrigins string

	StoreBackend string // "memory" or "sqlite"
	DataDir      string

	// Crawl queue
	LeaseWindow       time.Duration
	MaxCrawlFailures  int
	CrawlRetryBackoff time.Duration
	StaleAfter        time.Duration
	SweepSchedule     string
	SweepLimit        int

	// Override arbitration. Zero means user overrides never expire.
	UserOverrideTTL time.Duration

	// Ingest throttle in records per second. Zero disables throttling.
	IngestRatePerSec float64
}

// Load reads configuration from the environment. A .env file is honoured
// when present (ignored in production deployments where it does not exist).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		Host:          getEnv("HOST", "0.0.0.0"),
		Port:          getEnv("PORT", "8080"),
		CORSOrigins:   getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		StoreBackend:  getEnv("STORE_BACKEND", "sqlite"),
		DataDir:       getEnv("DATA_DIR", "./data"),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 15m"),
	}

	var err error
	if cfg.LeaseWindow, err = getDuration("LEASE_WINDOW", "10m"); err != nil {
		return nil, err
	}
	if cfg.CrawlRetryBackoff, err = getDuration("CRAWL_RETRY_BACKOFF", "1m"); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getDuration("STALE_AFTER", "24h"); err != nil {
		return nil, err
	}
	if cfg.UserOverrideTTL, err = getDuration("USER_OVERRIDE_TTL", "0s"); err != nil {
		return nil, err
	}
	if cfg.MaxCrawlFailures, err = getInt("MAX_CRAWL_FAILURES", "5"); err != nil {
		return nil, err
	}
	if cfg.SweepLimit, err = getInt("SWEEP_LIMIT", "200"); err != nil {
		return nil, err
	}
	if cfg.IngestRatePerSec, err = getFloat("INGEST_RATE_PER_SEC", "0"); err != nil {
		return nil, err
	}

	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "sqlite" {
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.StoreBackend)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key, defaultValue string) (float64, error) {
	f, err := strconv.ParseFloat(getEnv(key, defaultValue), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
