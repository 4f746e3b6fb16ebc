package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables, applies defaults for
// unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct populates tagged fields from the environment, recursing into
// nested section structs.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := os.Getenv(envName)
		if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
			value = os.Getenv(alt)
		}

		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField parses value into field according to the field's type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		field.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Database.URL == "" {
		fail("DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		fail("DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		fail("DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		fail("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		fail("SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		fail("SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Export.MaxConcurrent <= 0 {
		fail("EXPORT_MAX_CONCURRENT must be positive")
	}
	if c.Export.MaxWaitTime <= 0 {
		fail("EXPORT_MAX_WAIT_TIME must be positive")
	}
	if c.Export.Timeout <= 0 {
		fail("EXPORT_TIMEOUT must be positive")
	}
	if c.Export.SweepInterval <= 0 {
		fail("EXPORT_SWEEP_INTERVAL must be positive")
	}
	// A pending export still inside its own timeout must never be swept.
	if c.Export.StallTimeout <= c.Export.Timeout {
		fail("EXPORT_STALL_TIMEOUT (%s) must be greater than EXPORT_TIMEOUT (%s)", c.Export.StallTimeout, c.Export.Timeout)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "fs":
		if c.Storage.Dir == "" {
			fail("STORAGE_DIR is required for the fs backend")
		}
	case "gridfs":
		if c.Storage.MongoURI == "" {
			fail("STORAGE_MONGO_URI is required for the gridfs backend")
		}
		if c.Storage.Bucket == "" {
			fail("STORAGE_GRIDFS_BUCKET must not be empty")
		}
	case "memory":
	default:
		fail("STORAGE_BACKEND (%q) must be one of: fs, gridfs, memory", c.Storage.Backend)
	}

	if c.Events.RedisAddr != "" && c.Events.Stream == "" {
		fail("EVENTS_STREAM must not be empty when EVENTS_REDIS_ADDR is set")
	}
	if c.Events.MaxLen < 0 {
		fail("EVENTS_STREAM_MAXLEN must be non-negative")
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		fail("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ExportLimit <= 0 {
		fail("RATE_LIMIT_EXPORT must be positive when rate limiting is enabled")
	}

	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		fail("REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	for _, cidr := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			fail("TRUSTED_PROXIES entry %q is not a CIDR", cidr)
		}
	}
	if c.Security.OwnerHeader == "" {
		fail("OWNER_HEADER must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		fail("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		fail("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns the config for logging with credentials masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Addr: %q}, ", c.Server.Addr())
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Export: {MaxConcurrent: %d, Timeout: %s, StallTimeout: %s}, ",
		c.Export.MaxConcurrent, c.Export.Timeout, c.Export.StallTimeout)
	storage := c.Storage.Backend
	if storage == "gridfs" {
		storage += ", MongoURI: [MASKED]"
	}
	fmt.Fprintf(&b, "Storage: {Backend: %s}, ", storage)
	fmt.Fprintf(&b, "Events: {Redis: %v, Stream: %q}, ", c.Events.RedisAddr != "", c.Events.Stream)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d}, ", c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
