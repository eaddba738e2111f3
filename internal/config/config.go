package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL     string
	HTTPAddr        string
	AppEnv          string
	LogLevel        string
	LogFormat       string
	PollInterval    int // seconds
	ShutdownTimeout int // seconds

	JWTSecret          string
	ManychatSecret     string
	CORSAllowedOrigins []string
	SyncRatePerMinute  int

	TrelloBaseURL        string
	TrelloRequestsPer10s int

	SyncInterval        time.Duration // minimum age of a checkpoint before the watcher re-syncs
	SyncCardConcurrency int
	SyncCardDelay       time.Duration
	SyncBatchPause      time.Duration
	SyncBatchSize       int
	SyncFetchAttempts   int // outer retry rounds per card detail fetch
	SyncPassTimeout     time.Duration
	SyncLeaseTTL        time.Duration

	RedisURL string
	AMQPURL  string
}

// IsProduction reports whether the service runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ManychatSecret: os.Getenv("MANYCHAT_SECRET"),
		TrelloBaseURL:  getEnv("TRELLO_BASE_URL", "https://api.trello.com/1"),
		RedisURL:       os.Getenv("REDIS_URL"),
		AMQPURL:        os.Getenv("AMQP_URL"),
	}
	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	var err error
	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"POLL_INTERVAL_SECONDS", 60, &cfg.PollInterval},
		{"SHUTDOWN_TIMEOUT_SECONDS", 30, &cfg.ShutdownTimeout},
		{"TRELLO_REQUESTS_PER_10S", 100, &cfg.TrelloRequestsPer10s},
		{"SYNC_CARD_CONCURRENCY", 1, &cfg.SyncCardConcurrency},
		{"SYNC_BATCH_SIZE", 10, &cfg.SyncBatchSize},
		{"SYNC_FETCH_ATTEMPTS", 2, &cfg.SyncFetchAttempts},
		{"SYNC_RATE_PER_MINUTE", 10, &cfg.SyncRatePerMinute},
	}
	for _, v := range ints {
		if *v.dest, err = getInt(v.key, v.def); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"SYNC_INTERVAL", 15 * time.Minute, &cfg.SyncInterval},
		{"SYNC_CARD_DELAY", 100 * time.Millisecond, &cfg.SyncCardDelay},
		{"SYNC_BATCH_PAUSE", 2 * time.Second, &cfg.SyncBatchPause},
		{"SYNC_PASS_TIMEOUT", 5 * time.Minute, &cfg.SyncPassTimeout},
		{"SYNC_LEASE_TTL", 10 * time.Minute, &cfg.SyncLeaseTTL},
	}
	for _, v := range durations {
		if *v.dest, err = getDuration(v.key, v.def); err != nil {
			return nil, err
		}
	}

	if cfg.PollInterval < 1 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be at least 1")
	}
	if cfg.SyncFetchAttempts < 1 {
		return nil, fmt.Errorf("SYNC_FETCH_ATTEMPTS must be at least 1")
	}
	if cfg.SyncCardConcurrency < 1 {
		return nil, fmt.Errorf("SYNC_CARD_CONCURRENCY must be at least 1")
	}
	if cfg.TrelloRequestsPer10s < 1 {
		return nil, fmt.Errorf("TRELLO_REQUESTS_PER_10S must be at least 1")
	}
	// a lease shorter than a pass would let a second pass start mid-flight
	if cfg.SyncLeaseTTL < cfg.SyncPassTimeout {
		return nil, fmt.Errorf("SYNC_LEASE_TTL (%s) must not be shorter than SYNC_PASS_TIMEOUT (%s)", cfg.SyncLeaseTTL, cfg.SyncPassTimeout)
	}

	if cfg.JWTSecret == "" {
		fmt.Println("Warning: JWT_SECRET not set, the sync API will reject every request")
	}
	if cfg.ManychatSecret == "" {
		fmt.Println("Warning: MANYCHAT_SECRET not set, Manychat webhook is disabled")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
