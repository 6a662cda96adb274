package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookforge/bookforge/pkg/job"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.AutoSaveInterval = time.Hour // keep the loop quiet during tests
	return &cfg
}

func TestJSONStoreRoundTrip(t *testing.T) {
	cfg := testConfig(t)

	s, err := NewJSONStore(cfg)
	require.NoError(t, err)

	j := job.New("scan.pdf", job.DefaultConvertOptions())
	require.NoError(t, s.Save(j))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	// Reopen and verify the job survived intact.
	s2, err := NewJSONStore(cfg)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, job.StatusQueued, got.Status)
	assert.Equal(t, "scan.pdf", got.InputFilename)
	assert.Equal(t, 300, got.Options.DPI)
	assert.WithinDuration(t, j.CreatedAt, got.CreatedAt, time.Second)
}

func TestJSONStoreGetMissing(t *testing.T) {
	s, err := NewJSONStore(testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(uuid.New())
	assert.True(t, IsNotFound(err))
}

func TestJSONStoreGetPending(t *testing.T) {
	s, err := NewJSONStore(testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	queued := job.New("a.pdf", job.DefaultConvertOptions())
	done := job.New("b.pdf", job.DefaultConvertOptions())
	done.Status = job.StatusCompleted
	require.NoError(t, s.Save(queued))
	require.NoError(t, s.Save(done))

	pending, err := s.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, queued.ID, pending[0].ID)
}

func TestJSONStoreCleanup(t *testing.T) {
	s, err := NewJSONStore(testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	old := job.New("old.pdf", job.DefaultConvertOptions())
	old.Status = job.StatusCompleted
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)

	recent := job.New("recent.pdf", job.DefaultConvertOptions())
	recent.Status = job.StatusFailed

	active := job.New("active.pdf", job.DefaultConvertOptions())
	active.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)

	for _, j := range []*job.Job{old, recent, active} {
		require.NoError(t, s.Save(j))
	}

	removed, err := s.Cleanup(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Active jobs are never cleaned up no matter how old.
	_, err = s.Get(active.ID)
	assert.NoError(t, err)
	_, err = s.Get(old.ID)
	assert.True(t, IsNotFound(err))
}

func TestJSONStoreCorruptFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, "jobs.json"), []byte("{not json"), 0o644))

	_, err := NewJSONStore(cfg)
	require.Error(t, err)
	assert.True(t, IsCorruptState(err))
}

func TestJSONStoreSecondProcessLocked(t *testing.T) {
	cfg := testConfig(t)

	s, err := NewJSONStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = NewJSONStore(cfg)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestJSONStoreFlushAtomic(t *testing.T) {
	cfg := testConfig(t)

	s, err := NewJSONStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	j := job.New("doc.pdf", job.DefaultConvertOptions())
	require.NoError(t, s.Save(j))
	require.NoError(t, s.Flush())

	// No temp file left behind and the on-disk state is valid JSON.
	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var stored storedJobs
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, jsonStoreVersion, stored.Version)
	assert.Contains(t, stored.Jobs, j.ID)
}

func TestJSONStoreDeleteUnknownID(t *testing.T) {
	s, err := NewJSONStore(testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Delete(uuid.New()))
}

func TestJSONStoreClosedRejectsOperations(t *testing.T) {
	s, err := NewJSONStore(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save(job.New("x.pdf", job.DefaultConvertOptions())), ErrClosed)
	_, err = s.List()
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice is fine.
	assert.NoError(t, s.Close())
}

func TestJSONStoreSaveIsolation(t *testing.T) {
	s, err := NewJSONStore(testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	j := job.New("doc.pdf", job.DefaultConvertOptions())
	require.NoError(t, s.Save(j))

	// Mutating the caller's copy must not leak into the store.
	j.Status = job.StatusCompleted

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
}

func readStateFile(t *testing.T, path string) map[uuid.UUID]*job.Job {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var stored storedJobs
	require.NoError(t, json.Unmarshal(data, &stored))
	return stored.Jobs
}

func TestJSONStoreSaveFlushesStatusChanges(t *testing.T) {
	cfg := testConfig(t) // auto-save parked at one hour

	s, err := NewJSONStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	// Admission reaches the disk before Save returns, without Flush or
	// Close; a crash inside the auto-save window must not lose the job.
	j := job.New("scan.pdf", job.DefaultConvertOptions())
	require.NoError(t, s.Save(j))
	onDisk := readStateFile(t, s.Path())
	require.Contains(t, onDisk, j.ID)
	assert.Equal(t, job.StatusQueued, onDisk[j.ID].Status)

	// So does every status transition.
	j.Status = job.StatusProcessing
	require.NoError(t, s.Save(j))
	onDisk = readStateFile(t, s.Path())
	assert.Equal(t, job.StatusProcessing, onDisk[j.ID].Status)

	// A progress-only update rides the auto-save interval instead.
	j.Progress = &job.Progress{CurrentStep: 2, TotalSteps: 6, StepName: "deskew", Percent: 33}
	require.NoError(t, s.Save(j))
	onDisk = readStateFile(t, s.Path())
	assert.Nil(t, onDisk[j.ID].Progress)
}
