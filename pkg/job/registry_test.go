package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memMirror is a minimal Mirror for tests.
type memMirror struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*Job
	saves   int
	flushes int
	saveErr error
}

func newMemMirror() *memMirror {
	return &memMirror{jobs: make(map[uuid.UUID]*Job)}
}

func (m *memMirror) Save(j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.jobs[j.ID] = j.Clone()
	m.saves++
	return nil
}

func (m *memMirror) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memMirror) List() ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (m *memMirror) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *memMirror) get(id uuid.UUID) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// captureScheduler records enqueued jobs.
type captureScheduler struct {
	mu   sync.Mutex
	jobs []*Job
}

func (s *captureScheduler) Enqueue(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

func (s *captureScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func TestRegistrySubmitPersistsAndSchedules(t *testing.T) {
	mirror := newMemMirror()
	sched := &captureScheduler{}
	r := NewRegistry(mirror)
	r.SetScheduler(sched)

	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(j))

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.NotNil(t, mirror.get(j.ID))
	assert.Equal(t, 1, sched.count())
}

func TestRegistrySubmitFailsClosedOnStoreError(t *testing.T) {
	mirror := newMemMirror()
	mirror.saveErr = assert.AnError
	r := NewRegistry(mirror)

	j := New("scan.pdf", DefaultConvertOptions())
	err := r.Submit(j)
	require.Error(t, err)

	// The job must not be visible after a rejected submission.
	_, err = r.Get(j.ID)
	assert.True(t, IsNotFound(err))
}

func TestRegistrySubmitAfterSeal(t *testing.T) {
	r := NewRegistry(newMemMirror())
	r.Seal()

	err := r.Submit(New("scan.pdf", DefaultConvertOptions()))
	assert.True(t, IsShuttingDown(err))
}

func TestRegistryClaimIsExclusive(t *testing.T) {
	r := NewRegistry(newMemMirror())
	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(j))

	const workers = 16
	var wg sync.WaitGroup
	var claims int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Claim(j.ID); ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, claims)

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestRegistryClaimSkipsCancelledJob(t *testing.T) {
	r := NewRegistry(newMemMirror())
	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(j))
	require.NoError(t, r.Cancel(j.ID))

	_, ok := r.Claim(j.ID)
	assert.False(t, ok)
}

func TestRegistryLifecycleTimestamps(t *testing.T) {
	mirror := newMemMirror()
	r := NewRegistry(mirror)
	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(j))

	_, ok := r.Claim(j.ID)
	require.True(t, ok)

	r.UpdateProgress(j.ID, NewProgress(2, 4, "deskew"))
	got, err := r.Get(j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 50, got.Progress.Percent)

	require.NoError(t, r.Complete(j.ID, "/out/scan.pdf"))
	got, err = r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "/out/scan.pdf", got.OutputPath)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Progress, "progress is cleared on completion")
	assert.False(t, got.CompletedAt.Before(*got.StartedAt))

	// The terminal write went through synchronously.
	assert.Equal(t, StatusCompleted, mirror.get(j.ID).Status)
}

func TestRegistryCancelRacesWorkerCompletion(t *testing.T) {
	r := NewRegistry(newMemMirror())
	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(j))
	_, ok := r.Claim(j.ID)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	r.RegisterCancel(j.ID, cancel)

	require.NoError(t, r.Cancel(j.ID))
	assert.Error(t, ctx.Err(), "execution context must be cancelled")

	// The worker loses the race; its completion is rejected and the job
	// stays cancelled.
	err := r.Complete(j.ID, "/out/late.pdf")
	assert.True(t, IsInvalidTransition(err))

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Empty(t, got.OutputPath)
}

func TestRegistryCancelTerminal(t *testing.T) {
	r := NewRegistry(newMemMirror())
	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(j))
	_, _ = r.Claim(j.ID)
	require.NoError(t, r.Fail(j.ID, "boom"))

	err := r.Cancel(j.ID)
	assert.True(t, IsInvalidTransition(err))
}

func TestRegistryRetry(t *testing.T) {
	r := NewRegistry(newMemMirror())
	j := New("scan.pdf", DefaultConvertOptions())
	j.Priority = PriorityHigh
	require.NoError(t, r.Submit(j))
	_, _ = r.Claim(j.ID)
	require.NoError(t, r.Fail(j.ID, "boom"))

	retry, err := r.Retry(j.ID)
	require.NoError(t, err)
	assert.NotEqual(t, j.ID, retry.ID)
	assert.Equal(t, StatusQueued, retry.Status)
	assert.Equal(t, 1, retry.RetryCount)
	assert.Equal(t, PriorityHigh, retry.Priority)

	// The original stays failed.
	orig, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, orig.Status)

	// Only failed jobs can be retried.
	_, err = r.Retry(retry.ID)
	assert.True(t, IsConflict(err))
}

func TestRegistrySubscribeNotifiesOnTransitions(t *testing.T) {
	r := NewRegistry(newMemMirror())

	var mu sync.Mutex
	var seen []Status
	r.Subscribe(func(j *Job) {
		mu.Lock()
		seen = append(seen, j.Status)
		mu.Unlock()
	})

	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(j))
	_, _ = r.Claim(j.ID)
	require.NoError(t, r.Complete(j.ID, "/out/scan.pdf"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, StatusCompleted)
}

func TestRegistryListNewestFirst(t *testing.T) {
	r := NewRegistry(newMemMirror())

	older := New("a.pdf", DefaultConvertOptions())
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := New("b.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(older))
	require.NoError(t, r.Submit(newer))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
}

func TestRegistryCleanup(t *testing.T) {
	mirror := newMemMirror()
	r := NewRegistry(mirror)

	old := New("old.pdf", DefaultConvertOptions())
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, r.Submit(old))
	require.NoError(t, r.Cancel(old.ID))

	fresh := New("fresh.pdf", DefaultConvertOptions())
	require.NoError(t, r.Submit(fresh))

	removed, err := r.Cleanup(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Nil(t, mirror.get(old.ID))

	_, err = r.Get(old.ID)
	assert.True(t, IsNotFound(err))
	_, err = r.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestRegistryRestore(t *testing.T) {
	mirror := newMemMirror()
	j := New("scan.pdf", DefaultConvertOptions())
	require.NoError(t, mirror.Save(j))

	r := NewRegistry(mirror)
	n, err := r.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := r.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}
