package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	RiftAPIKey      string
	RiftAPIBaseURL  string
	PollInterval    int // seconds between claim polls
	WorkerCount     int // max accounts synced concurrently
	StaleAfter      int // minutes before a syncing account counts as stuck
	SweepInterval   int // minutes between stale-job sweeps
	ShutdownTimeout int // seconds
	LogLevel        string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	apiKey := os.Getenv("RIFT_API_KEY")
	if apiKey == "" {
		fmt.Println("Warning: RIFT_API_KEY not set, match provider calls will be rejected")
	}

	baseURL := os.Getenv("RIFT_API_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.riftdata.gg"
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		DatabaseURL:     dbURL,
		HTTPAddr:        addr,
		RiftAPIKey:      apiKey,
		RiftAPIBaseURL:  baseURL,
		PollInterval:    envInt("POLL_INTERVAL", 5),
		WorkerCount:     envInt("WORKER_COUNT", 4),
		StaleAfter:      envInt("STALE_AFTER", 10),
		SweepInterval:   envInt("SWEEP_INTERVAL", 2),
		ShutdownTimeout: envInt("SHUTDOWN_TIMEOUT", 30),
		LogLevel:        logLevel,
	}, nil
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
