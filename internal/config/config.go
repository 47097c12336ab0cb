package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the chat server.
type Config struct {
	Host     string
	Port     string
	Env      string
	LogLevel zerolog.Level

	// Worker pool
	Workers   int
	QueueSize int

	// Transport
	AllowedOrigins []string // "*" allows any origin
	MaxMessageSize int64

	// Per-connection rate limiting
	RateLimitEnabled   bool
	RateLimitPerSecond float64
	RateLimitBurst     int

	ShutdownTimeout time.Duration
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = "8080"
	defaultEnv             = "development"
	defaultWorkers         = 8
	defaultQueueSize       = 1024
	defaultMaxMessageSize  = 10 * 1024 * 1024
	defaultRatePerSecond   = 100
	defaultRateBurst       = 200
	defaultShutdownTimeout = 30 * time.Second
)

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the current environment only. Invalid
// values fall back to their defaults.
func FromEnv() *Config {
	return &Config{
		Host:               getEnv("HOST", defaultHost),
		Port:               parsePort(os.Getenv("PORT")),
		Env:                getEnv("ENV", defaultEnv),
		LogLevel:           parseLevel(os.Getenv("LOG_LEVEL")),
		Workers:            parseIntValue(os.Getenv("WORKERS"), defaultWorkers),
		QueueSize:          parseIntValue(os.Getenv("QUEUE_SIZE"), defaultQueueSize),
		AllowedOrigins:     parseOrigins(os.Getenv("ALLOWED_ORIGINS")),
		MaxMessageSize:     parseInt64Value(os.Getenv("MAX_MESSAGE_SIZE"), defaultMaxMessageSize),
		RateLimitEnabled:   getEnv("RATE_LIMIT_ENABLED", "true") != "false",
		RateLimitPerSecond: parseFloatValue(os.Getenv("RATE_LIMIT_PER_SECOND"), defaultRatePerSecond),
		RateLimitBurst:     parseIntValue(os.Getenv("RATE_LIMIT_BURST"), defaultRateBurst),
		ShutdownTimeout:    parseDuration(os.Getenv("SHUTDOWN_TIMEOUT"), defaultShutdownTimeout),
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// AllowsAllOrigins reports whether the origin list contains "*".
func (c *Config) AllowsAllOrigins() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parsePort(value string) string {
	value = strings.TrimPrefix(strings.TrimSpace(value), ":")
	if port, err := strconv.Atoi(value); err == nil && port > 0 && port <= 65535 {
		return value
	}
	return defaultPort
}

func parseLevel(value string) zerolog.Level {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return zerolog.InfoLevel
	}
	if level, err := zerolog.ParseLevel(value); err == nil {
		return level
	}
	return zerolog.InfoLevel
}

func parseOrigins(value string) []string {
	var origins []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part != "" {
			origins = append(origins, part)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseFloatValue(value string, defaultValue float64) float64 {
	if parsed, err := strconv.ParseFloat(value, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
