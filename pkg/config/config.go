// Package config loads layered configuration: hardcoded defaults, an
// optional YAML file, BOOKFORGE_* environment variables, then command-line
// flags, each layer overriding the last.
package config

import (
	"fmt"
	"sync"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Manager handles loading and accessing application configuration.
type Manager struct {
	k       *koanf.Koanf
	mu      sync.RWMutex
	current Config
}

// NewManager creates an empty configuration manager.
func NewManager() *Manager {
	return &Manager{k: koanf.New(".")}
}

// DefaultConfig returns the baseline configuration before any overrides.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: DefaultServerConfig(),
	}
}

// Load merges all sources in priority order and unmarshals the result.
func (m *Manager) Load(flags *pflag.FlagSet, configFilePath string, debug bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, src := range DefaultSources(configFilePath, flags, debug) {
		if err := src.Load(m.k); err != nil {
			return fmt.Errorf("config source %s: %w", src.Name(), err)
		}
	}

	var cfg Config
	if err := m.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Server.Store.Validate(); err != nil {
		return err
	}
	m.current = cfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// DefaultConfigAsMap flattens the defaults for koanf's confmap provider,
// so every key is known even when no other source mentions it.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		"server.addr":             def.Server.Addr,
		"server.port":             def.Server.Port,
		"server.read_timeout":     def.Server.ReadTimeout,
		"server.write_timeout":    def.Server.WriteTimeout,
		"server.upload_dir":       def.Server.UploadDir,
		"server.max_upload_bytes": def.Server.MaxUploadBytes,

		"server.store.enabled":            def.Server.Store.Enabled,
		"server.store.dir":                def.Server.Store.Dir,
		"server.store.backend":            string(def.Server.Store.Backend),
		"server.store.auto_save_interval": def.Server.Store.AutoSaveInterval,
		"server.store.retention_days":     def.Server.Store.RetentionDays,

		"server.worker.workers": def.Server.Worker.Workers,

		"server.pipeline.output_dir": def.Server.Pipeline.OutputDir,
		"server.pipeline.work_dir":   def.Server.Pipeline.WorkDir,

		"server.ratelimit.enabled":             def.Server.RateLimit.Enabled,
		"server.ratelimit.requests_per_minute": def.Server.RateLimit.RequestsPerMinute,
		"server.ratelimit.burst":               def.Server.RateLimit.Burst,
		"server.ratelimit.allowlist_path":      def.Server.RateLimit.AllowlistPath,
		"server.ratelimit.evict_after":         def.Server.RateLimit.EvictAfter,

		"server.shutdown.timeout":       def.Server.Shutdown.Timeout,
		"server.shutdown.wait_for_jobs": def.Server.Shutdown.WaitForJobs,
		"server.shutdown.notice_period": def.Server.Shutdown.NoticePeriod,

		"server.recovery.retry_failed": def.Server.Recovery.RetryFailed,
		"server.recovery.max_retries":  def.Server.Recovery.MaxRetries,
	}
}

// BindFlags defines global flags shared by every command.
func BindFlags(flags *pflag.FlagSet) {
	var flagvar bool
	flags.BoolVar(&flagvar, "debug", false, "Enable debug logging")
}
