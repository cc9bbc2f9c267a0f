// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinFlushInterval is the floor for the periodic sweep. Anything
	// lower hammers the shared store for no benefit.
	MinFlushInterval = 5 * time.Second

	// MinHomesDebounce is the floor for coalescing rapid home edits.
	MinHomesDebounce = time.Second
)

// DatabaseConfig selects and configures the shared store.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	// DSN is the postgres connection string. Ignored for sqlite.
	DSN string `yaml:"dsn"`
	// Path is the sqlite database file. Ignored for postgres.
	Path string `yaml:"path"`
	// MigrationsDir holds the schema migration files for the driver.
	MigrationsDir string `yaml:"migrations_dir"`
}

// AuditConfig configures the duplicate item auditor.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	// Action is "log", "consolidate" or "delete".
	Action string `yaml:"action"`
	// AuditLog is the file findings are appended to. Empty logs to
	// the engine logger only.
	AuditLog string `yaml:"audit_log"`
	// RescanInterval is how often online players are re-audited.
	// Zero disables periodic rescans.
	RescanInterval time.Duration `yaml:"rescan_interval"`
	// TagKind is the item kind that gets a persistent identity tag.
	TagKind string `yaml:"tag_kind"`
	// CleanupStaleTagsOnStart strips identity tags from kinds other
	// than TagKind during the startup pass.
	CleanupStaleTagsOnStart bool `yaml:"cleanup_stale_tags_on_start"`
	// MaxStackSize caps a legitimate stack. Zero uses the item's own
	// stack limit.
	MaxStackSize int `yaml:"max_stack_size"`
}

// TelemetryConfig configures anonymous usage pings and the update
// check. Both are off unless enabled.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	UpdateCheck bool   `yaml:"update_check"`
}

// Config is the full engine configuration.
type Config struct {
	// ServerName identifies this server in per-server rows. Must be
	// unique across the fleet.
	ServerName string `yaml:"server_name"`

	Database DatabaseConfig `yaml:"database"`

	// FlushInterval is the periodic dirty sweep cadence.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// HomesDebounce coalesces bursts of sethome edits into one write.
	HomesDebounce time.Duration `yaml:"homes_debounce"`
	// SuppressWindow discards local change marks for this long after
	// an import applies remote data.
	SuppressWindow time.Duration `yaml:"suppress_window"`

	// BalanceWrites grants this server write authority over balances.
	// Servers without it still import balances.
	BalanceWrites bool `yaml:"balance_writes"`

	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// LogLevel is one of error, warn, info, debug, trace.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ServerName: "server-1",
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Path:          "driftsync.db",
			MigrationsDir: "migrations/sqlite",
		},
		FlushInterval:  30 * time.Second,
		HomesDebounce:  5 * time.Second,
		SuppressWindow: 2 * time.Second,
		BalanceWrites:  true,
		Audit: AuditConfig{
			Action:                  "log",
			RescanInterval:          5 * time.Minute,
			CleanupStaleTagsOnStart: true,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required fields and clamps intervals to their
// floors.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return fmt.Errorf("server_name is required")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.FlushInterval < MinFlushInterval {
		c.FlushInterval = MinFlushInterval
	}
	if c.HomesDebounce < MinHomesDebounce {
		c.HomesDebounce = MinHomesDebounce
	}
	if c.SuppressWindow < 0 {
		c.SuppressWindow = 0
	}
	switch c.Audit.Action {
	case "", "log", "consolidate", "delete":
	default:
		return fmt.Errorf("unknown audit.action %q", c.Audit.Action)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
