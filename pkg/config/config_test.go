package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookforge/bookforge/pkg/store"
	"github.com/bookforge/bookforge/pkg/worker"
)

func TestLoadDefaults(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(nil, "", false))

	cfg := m.Get()
	assert.Equal(t, "127.0.0.1", cfg.Server.Addr)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, store.BackendJSON, cfg.Server.Store.Backend)
	assert.Equal(t, worker.DefaultConfig().Workers, cfg.Server.Worker.Workers)
	assert.True(t, cfg.Server.RateLimit.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  worker:
    workers: 8
  store:
    backend: sqlite
log:
  level: warn
`), 0o644))

	m := NewManager()
	require.NoError(t, m.Load(nil, path, false))

	cfg := m.Get()
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Server.Worker.Workers)
	assert.Equal(t, store.BackendSQLite, cfg.Server.Store.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Addr)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindServerFlags(flags)
	require.NoError(t, flags.Parse([]string{"--server.port=7777"}))

	m := NewManager()
	require.NoError(t, m.Load(flags, path, false))
	assert.Equal(t, 7777, m.Get().Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("BOOKFORGE_SERVER_PORT", "6060")

	m := NewManager()
	require.NoError(t, m.Load(nil, "", false))
	assert.Equal(t, 6060, m.Get().Server.Port)
}

func TestLoadDebugFlag(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(nil, "", true))
	assert.Equal(t, "debug", m.Get().Log.Level)
}

func TestLoadMissingFileIsSkipped(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(nil, filepath.Join(t.TempDir(), "nope.yaml"), false))
}

func TestLoadRejectsBadStoreConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  store:\n    backend: etcd\n"), 0o644))

	m := NewManager()
	assert.Error(t, m.Load(nil, path, false))
}
