// Package config loads the export service configuration from environment
// variables, applies defaults and validates everything on startup so a
// misconfigured deployment fails before serving traffic.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Export   ExportConfig
	Storage  StorageConfig
	Events   EventsConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout covers large direct exports (default: 5m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining
	// in-flight exports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 2m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"2m"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required).
	// DATABASE_URL and DB_URL are both accepted.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"false"`
}

// ExportConfig holds background export settings.
type ExportConfig struct {
	// MaxConcurrent is the number of exports formatted at once (default: 4)
	MaxConcurrent int `env:"EXPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a queued export waits for a slot (default: 1m)
	MaxWaitTime time.Duration `env:"EXPORT_MAX_WAIT_TIME" default:"1m"`

	// Timeout bounds a single background export (default: 10m)
	Timeout time.Duration `env:"EXPORT_TIMEOUT" default:"10m"`

	// StallTimeout is how long a reservation may stay pending before the
	// sweeper marks it failed (default: 30m)
	StallTimeout time.Duration `env:"EXPORT_STALL_TIMEOUT" default:"30m"`

	// SweepInterval is how often stalled reservations are looked for (default: 5m)
	SweepInterval time.Duration `env:"EXPORT_SWEEP_INTERVAL" default:"5m"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	// Backend is one of fs, gridfs or memory (default: fs)
	Backend string `env:"STORAGE_BACKEND" default:"fs"`

	// Dir is the root directory of the fs backend
	Dir string `env:"STORAGE_DIR" default:"./data/exports"`

	MongoURI      string `env:"STORAGE_MONGO_URI" envAlt:"MONGO_URI"`
	MongoDatabase string `env:"STORAGE_MONGO_DATABASE" default:"formexport"`
	Bucket        string `env:"STORAGE_GRIDFS_BUCKET" default:"exports"`
}

// EventsConfig holds lifecycle event publishing settings. Events are only
// logged when RedisAddr is empty.
type EventsConfig struct {
	RedisAddr     string `env:"EVENTS_REDIS_ADDR" envAlt:"REDIS_ADDR"`
	RedisPassword string `env:"EVENTS_REDIS_PASSWORD" envAlt:"REDIS_PASSWORD"`
	RedisDB       int    `env:"EVENTS_REDIS_DB" default:"0"`
	Stream        string `env:"EVENTS_STREAM" default:"formexport:events"`

	// MaxLen caps the stream length, approximately (default: 10000)
	MaxLen int64 `env:"EVENTS_STREAM_MAXLEN" default:"10000"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ExportLimit is requests per minute for export endpoints (default: 10)
	ExportLimit int `env:"RATE_LIMIT_EXPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs.
	// The owner header and forwarded client IPs are honored only from them.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key.
	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`

	// OwnerHeader carries the authenticated user set by the fronting proxy.
	OwnerHeader string `env:"OWNER_HEADER" default:"X-Forwarded-User"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
