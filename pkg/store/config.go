package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Backend selects the persistence implementation.
type Backend string

const (
	// BackendJSON stores jobs in a single JSON file (simple, portable).
	BackendJSON Backend = "json"
	// BackendSQLite stores jobs in an embedded SQLite database.
	BackendSQLite Backend = "sqlite"
)

// Config holds store configuration shared by all backends.
type Config struct {
	// Enabled toggles persistence entirely. When disabled the registry runs
	// on an in-memory null store and nothing survives a restart.
	Enabled bool `koanf:"enabled"`

	// Dir is the storage directory. The JSON backend writes jobs.json, the
	// SQLite backend writes jobs.db.
	Dir string `koanf:"dir"`

	// Backend selects the implementation: "json" or "sqlite".
	Backend Backend `koanf:"backend"`

	// AutoSaveInterval is how often the JSON backend flushes dirty state in
	// addition to the synchronous flush on every status transition.
	AutoSaveInterval time.Duration `koanf:"auto_save_interval"`

	// RetentionDays bounds how long terminal jobs are kept before cleanup.
	RetentionDays int `koanf:"retention_days"`
}

// DefaultConfig returns store defaults matching a local single-node setup.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Dir:              "./data",
		Backend:          BackendJSON,
		AutoSaveInterval: 30 * time.Second,
		RetentionDays:    30,
	}
}

// Validate normalises and checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Dir == "" {
		return fmt.Errorf("store: dir is required when persistence is enabled")
	}
	if strings.HasPrefix(c.Dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("store: resolve home directory: %w", err)
		}
		c.Dir = filepath.Join(home, c.Dir[2:])
	}
	abs, err := filepath.Abs(c.Dir)
	if err != nil {
		return fmt.Errorf("store: invalid dir %q: %w", c.Dir, err)
	}
	c.Dir = abs

	switch c.Backend {
	case "", BackendJSON:
		c.Backend = BackendJSON
	case BackendSQLite:
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = DefaultConfig().AutoSaveInterval
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultConfig().RetentionDays
	}
	return nil
}

// RetentionCutoff returns the cleanup cutoff implied by RetentionDays.
func (c *Config) RetentionCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.RetentionDays)
}
