package config

import (
	"time"

	"github.com/bookforge/bookforge/pkg/job"
	"github.com/bookforge/bookforge/pkg/pipeline"
	"github.com/bookforge/bookforge/pkg/ratelimit"
	"github.com/bookforge/bookforge/pkg/shutdown"
	"github.com/bookforge/bookforge/pkg/store"
	"github.com/bookforge/bookforge/pkg/worker"
)

// Config is the root configuration structure, aggregating every subsystem.
type Config struct {
	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json | text
	File   string `koanf:"file"`   // optional log file path
}

// ServerConfig holds the conversion server runtime configuration.
type ServerConfig struct {
	// Network settings
	Addr string `koanf:"addr"`
	Port int    `koanf:"port"`

	// HTTP timeouts
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// UploadDir receives submitted files before conversion.
	UploadDir string `koanf:"upload_dir"`

	// MaxUploadBytes bounds a single multipart upload.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// Subsystems
	Store     store.Config       `koanf:"store"`
	Worker    worker.Config      `koanf:"worker"`
	Pipeline  pipeline.Config    `koanf:"pipeline"`
	RateLimit ratelimit.Config   `koanf:"ratelimit"`
	Shutdown  shutdown.Config    `koanf:"shutdown"`
	Recovery  job.RecoveryConfig `koanf:"recovery"`
}
