package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable the engine and its surfaces need. Values are
// read once at startup and passed into constructors explicitly; nothing in
// the core reads the environment on its own.
type Config struct {
	// DatabaseURL is the Postgres connection string
	DatabaseURL string `env:"DATABASE_URL"`

	// LogLevel is the minimum structured-log level (DEBUG, INFO, WARN, ERROR)
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	// HTTPAddr is the listen address for the API server
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// AuditDBLogging controls whether audit events are persisted to the
	// database in addition to the structured log
	AuditDBLogging bool `env:"AUDIT_DB_LOGGING" envDefault:"true"`

	// AuditRetentionDays is the default retention window for audit events.
	// Non-positive values fall back to DefaultRetentionDays.
	AuditRetentionDays int `env:"AUDIT_RETENTION_DAYS" envDefault:"30"`

	// AuditQueryMaxLimit caps page sizes on audit log queries
	AuditQueryMaxLimit int `env:"AUDIT_QUERY_MAX_LIMIT" envDefault:"500"`
}

// DefaultRetentionDays is used when no valid retention window is configured
const DefaultRetentionDays = 30

// Load populates a Config from the process environment
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

// RetentionDays returns the configured retention window, falling back to
// the 30-day default when the configured value is not usable
func (c *Config) RetentionDays() int {
	if c.AuditRetentionDays <= 0 {
		return DefaultRetentionDays
	}
	return c.AuditRetentionDays
}
