// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Realtime brokers.
const (
	BrokerNone  = "none"
	BrokerNATS  = "nats"
	BrokerRedis = "redis"
)

const defaultJWTSecret = "development-secret-change-in-production"

// Config holds all configuration for the application.
type Config struct {
	Env string

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ShutdownTimeout    time.Duration

	// Backend settings
	BackendDriver   string
	DatabaseURL     string
	DatabaseMaxConn int
	AutoMigrate     bool

	// Realtime broker settings
	Broker string

	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSStream   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT settings
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// CORS
	AllowedOrigins []string

	// SSE
	StreamHeartbeat time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env: getEnv("ENV", "production"),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Backend
		BackendDriver:   strings.ToLower(getEnv("BACKEND_DRIVER", DriverMemory)),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DatabaseMaxConn: getIntEnv("DATABASE_MAX_CONNS", 10),
		AutoMigrate:     getBoolEnv("DATABASE_AUTO_MIGRATE", true),

		// Broker
		Broker: strings.ToLower(getEnv("REALTIME_BROKER", BrokerNone)),

		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSStream:   getEnv("NATS_STREAM", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// JWT
		JWTSecret:   getEnv("JWT_SECRET", defaultJWTSecret),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),
		JWTAudience: getEnv("JWT_AUDIENCE", "authenticated"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		StreamHeartbeat: getDurationEnv("STREAM_HEARTBEAT", 30*time.Second),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports every setting that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.BackendDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BACKEND_DRIVER %q", c.BackendDriver))
	}

	switch c.Broker {
	case BrokerNone:
	case BrokerNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats broker"))
		}
	case BrokerRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REALTIME_BROKER %q", c.Broker))
	}

	if c.Env == "production" && c.JWTSecret == defaultJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit requests and window must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
