package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookforge/bookforge/pkg/job"
)

func TestNewSelectsBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()

	s, err := New(&cfg)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*JSONStore)
	assert.True(t, ok)
}

func TestNewDisabledYieldsNullStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	s, err := New(&cfg)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*NullStore)
	assert.True(t, ok)
}

func TestNewUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Backend = "etcd"

	_, err := New(&cfg)
	assert.Error(t, err)
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{Enabled: true, Dir: t.TempDir()}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendJSON, cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.AutoSaveInterval)
	assert.Equal(t, 30, cfg.RetentionDays)
}

func TestConfigRetentionCutoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionDays = 7

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC), cfg.RetentionCutoff(now))
}

func TestNullStoreContract(t *testing.T) {
	s := NewNullStore()

	j := job.New("a.pdf", job.DefaultConvertOptions())
	require.NoError(t, s.Save(j))

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)

	pending, err := s.GetPending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}
