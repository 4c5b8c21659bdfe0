package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Upstream pull API
	APIBaseURL string
	APITimeout time.Duration

	// Auth collaborator
	AuthBaseURL      string
	RefreshThreshold time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string

	// Channel configuration
	ConnectTimeout  time.Duration
	LockWaitTimeout time.Duration
	StopTimeout     time.Duration

	// Backoff bands: short for the first few attempts, medium for the next
	// several, long beyond that.
	BackoffShort     time.Duration
	BackoffMedium    time.Duration
	BackoffLong      time.Duration
	BackoffShortMax  int
	BackoffMediumMax int

	// Cache configuration
	CacheTTL time.Duration

	// Reservation configuration
	MaxQuantityPerUser int
	ExpiryTick         time.Duration
	TerminalRetention  time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Upstream pull API
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080/api"),
		APITimeout: getEnvAsDuration("API_TIMEOUT", "10s"),

		// Auth
		AuthBaseURL:      getEnv("AUTH_BASE_URL", "http://localhost:8080/auth"),
		RefreshThreshold: getEnvAsDuration("REFRESH_THRESHOLD", "2m"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),

		// Channel
		ConnectTimeout:  getEnvAsDuration("CONNECT_TIMEOUT", "15s"),
		LockWaitTimeout: getEnvAsDuration("LOCK_WAIT_TIMEOUT", "10s"),
		StopTimeout:     getEnvAsDuration("STOP_TIMEOUT", "3s"),

		// Backoff bands
		BackoffShort:     getEnvAsDuration("BACKOFF_SHORT", "2s"),
		BackoffMedium:    getEnvAsDuration("BACKOFF_MEDIUM", "10s"),
		BackoffLong:      getEnvAsDuration("BACKOFF_LONG", "30s"),
		BackoffShortMax:  getEnvAsInt("BACKOFF_SHORT_MAX", 5),
		BackoffMediumMax: getEnvAsInt("BACKOFF_MEDIUM_MAX", 15),

		// Cache
		CacheTTL: getEnvAsDuration("CACHE_TTL", "2s"),

		// Reservations
		MaxQuantityPerUser: getEnvAsInt("MAX_QUANTITY_PER_USER", 10),
		ExpiryTick:         getEnvAsDuration("EXPIRY_TICK", "1s"),
		TerminalRetention:  getEnvAsDuration("TERMINAL_RETENTION", "5m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
