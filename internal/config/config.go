// Package config provides configuration loading for the orchestrator service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the orchestrator service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Engine configuration
	MaxConcurrent     int
	SchedulerPoll     time.Duration
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	DefaultBackoff    time.Duration

	// Event sink configuration
	EventSink   string // "memory" or "redis"
	RedisURL    string
	EventStream string
	EventMaxLen int64
	EventTTL    time.Duration

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	TracingEnabled  bool
	TracingEndpoint string
	ServiceName     string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Engine
		MaxConcurrent:     getInt("ORCH_MAX_CONCURRENT", 4),
		SchedulerPoll:     getDuration("ORCH_SCHEDULER_POLL", 50*time.Millisecond),
		DefaultTimeout:    getDuration("ORCH_TASK_TIMEOUT_DEFAULT", 0), // 0 = no timeout
		DefaultMaxRetries: getInt("ORCH_MAX_RETRIES_DEFAULT", 1),
		DefaultBackoff:    getDuration("ORCH_BACKOFF_DEFAULT", time.Second),

		// Event sink
		EventSink:   getEnv("ORCH_EVENT_SINK", "memory"), // "memory" or "redis"
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		EventStream: getEnv("EVENT_STREAM", "orchestrator:events"),
		EventMaxLen: getInt64("EVENT_MAX_LEN", 10000),
		EventTTL:    getDuration("EVENT_TTL", 7*24*time.Hour),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Tracing
		TracingEnabled:  getBool("OTEL_ENABLED", false),
		TracingEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:     getEnv("OTEL_SERVICE_NAME", "orchestrator"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
