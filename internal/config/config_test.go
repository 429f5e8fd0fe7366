package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_DRIVER", "")
	t.Setenv("REALTIME_BROKER", "")
	t.Setenv("RATE_LIMIT_WINDOW", "")

	cfg := Load()
	if cfg.BackendDriver != DriverMemory {
		t.Errorf("BackendDriver = %q, want %q", cfg.BackendDriver, DriverMemory)
	}
	if cfg.Broker != BrokerNone {
		t.Errorf("Broker = %q, want %q", cfg.Broker, BrokerNone)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Errorf("RateLimitWindow = %v", cfg.RateLimitWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BACKEND_DRIVER", "Postgres")
	t.Setenv("DATABASE_MAX_CONNS", "25")
	t.Setenv("STREAM_HEARTBEAT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	if cfg.BackendDriver != DriverPostgres {
		t.Errorf("BackendDriver = %q", cfg.BackendDriver)
	}
	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d", cfg.DatabaseMaxConn)
	}
	if cfg.StreamHeartbeat != 5*time.Second {
		t.Errorf("StreamHeartbeat = %v", cfg.StreamHeartbeat)
	}
	if got := strings.Join(cfg.AllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("AllowedOrigins = %q", got)
	}
	if !cfg.TracingEnabled {
		t.Error("TracingEnabled should be true")
	}
	if cfg.RedisDB != 0 {
		t.Errorf("invalid REDIS_DB should fall back to 0, got %d", cfg.RedisDB)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:               "development",
			BackendDriver:     DriverMemory,
			Broker:            BrokerNone,
			JWTSecret:         defaultJWTSecret,
			RateLimitRequests: 10,
			RateLimitWindow:   time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory defaults", mutate: func(*Config) {}},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.BackendDriver = DriverPostgres },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.BackendDriver = "mysql" },
			wantErr: "unknown BACKEND_DRIVER",
		},
		{
			name:    "unknown broker",
			mutate:  func(c *Config) { c.Broker = "kafka" },
			wantErr: "unknown REALTIME_BROKER",
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.Broker = BrokerRedis },
			wantErr: "REDIS_ADDR",
		},
		{
			name:    "default secret in production",
			mutate:  func(c *Config) { c.Env = "production" },
			wantErr: "JWT_SECRET",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimitRequests = 0 },
			wantErr: "rate limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
