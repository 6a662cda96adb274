package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/bookforge/bookforge/pkg/job"
	"github.com/bookforge/bookforge/pkg/pipeline"
	"github.com/bookforge/bookforge/pkg/ratelimit"
	"github.com/bookforge/bookforge/pkg/shutdown"
	"github.com/bookforge/bookforge/pkg/store"
	"github.com/bookforge/bookforge/pkg/worker"
)

// DefaultServerConfig returns defaults for a local single-node setup.
// Overridable via config file, environment, or flags.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           "127.0.0.1",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		UploadDir:      "./uploads",
		MaxUploadBytes: 512 << 20,
		Store:          store.DefaultConfig(),
		Worker:         worker.DefaultConfig(),
		Pipeline:       pipeline.DefaultConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
		Shutdown:       shutdown.DefaultConfig(),
		Recovery:       job.DefaultRecoveryConfig(),
	}
}

// BindServerFlags binds server flags to the provided FlagSet, namespaced
// under 'server.' so they merge cleanly with file and environment sources.
// Used by the 'bookforge serve' command.
func BindServerFlags(flags *pflag.FlagSet) {
	defaults := DefaultServerConfig()

	flags.String("server.addr", defaults.Addr, "Server listen address (use 0.0.0.0 for all interfaces)")
	flags.Int("server.port", defaults.Port, "Server listen port")
	flags.Duration("server.read_timeout", defaults.ReadTimeout, "HTTP read timeout")
	flags.Duration("server.write_timeout", defaults.WriteTimeout, "HTTP write timeout")
	flags.String("server.upload_dir", defaults.UploadDir, "Directory for uploaded files")
	flags.Int("server.worker.workers", defaults.Worker.Workers, "Number of concurrent conversion workers")
	flags.String("server.pipeline.output_dir", defaults.Pipeline.OutputDir, "Directory for finished artifacts")

	flags.Bool("server.store.enabled", defaults.Store.Enabled, "Persist jobs across restarts")
	flags.String("server.store.dir", defaults.Store.Dir, "Storage directory for persisted job state")
	flags.String("server.store.backend", string(defaults.Store.Backend), "Persistence backend: json | sqlite")
	flags.Int("server.store.retention_days", defaults.Store.RetentionDays, "Days to keep finished jobs before cleanup")

	flags.Bool("server.ratelimit.enabled", defaults.RateLimit.Enabled, "Enable per-client rate limiting")
	flags.Int("server.ratelimit.requests_per_minute", defaults.RateLimit.RequestsPerMinute, "Sustained requests per minute per client")
	flags.Int("server.ratelimit.burst", defaults.RateLimit.Burst, "Burst size per client")
	flags.String("server.ratelimit.allowlist_path", defaults.RateLimit.AllowlistPath, "File of client IDs exempt from rate limiting")

	flags.Duration("server.shutdown.timeout", defaults.Shutdown.Timeout, "How long shutdown waits for running jobs")
	flags.Bool("server.shutdown.wait_for_jobs", defaults.Shutdown.WaitForJobs, "Wait for in-flight jobs to finish during shutdown")
	flags.Bool("server.recovery.retry_failed", defaults.Recovery.RetryFailed, "Retry failed jobs on startup")
}
