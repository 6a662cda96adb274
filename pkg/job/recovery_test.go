package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRegistry(t *testing.T, mirror *memMirror, statuses ...Status) []*Job {
	t.Helper()
	now := time.Now().UTC()
	jobs := make([]*Job, 0, len(statuses))
	for i, st := range statuses {
		j := New("scan.pdf", DefaultConvertOptions())
		j.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		j.Status = st
		if st == StatusProcessing {
			started := j.CreatedAt
			j.StartedAt = &started
			p := NewProgress(1, 4, "render")
			j.Progress = &p
		}
		if st.IsTerminal() {
			done := j.CreatedAt.Add(time.Second)
			j.CompletedAt = &done
		}
		require.NoError(t, mirror.Save(j))
		jobs = append(jobs, j)
	}
	return jobs
}

func TestRecoveryRequeuesInterruptedJobs(t *testing.T) {
	mirror := newMemMirror()
	seeded := seedRegistry(t, mirror,
		StatusProcessing, StatusQueued, StatusCompleted, StatusFailed)

	r := NewRegistry(mirror)
	_, err := r.Restore()
	require.NoError(t, err)

	summary := NewRecovery(r, DefaultRecoveryConfig()).Run()
	assert.Equal(t, 1, summary.Requeued)
	assert.Equal(t, 0, summary.Retried)
	assert.Equal(t, 1, summary.Recovered)
	assert.Equal(t, 0, summary.Failed)

	got, err := r.Get(seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Progress)

	// Terminal jobs are untouched.
	done, err := r.Get(seeded[2].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	failed, err := r.Get(seeded[3].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
}

func TestRecoveryRetriesFailedWithinBudget(t *testing.T) {
	mirror := newMemMirror()
	seeded := seedRegistry(t, mirror, StatusFailed, StatusFailed)

	// The second job exhausted its retries already.
	exhausted := seeded[1]
	exhausted.RetryCount = 3
	require.NoError(t, mirror.Save(exhausted))

	r := NewRegistry(mirror)
	_, err := r.Restore()
	require.NoError(t, err)

	cfg := RecoveryConfig{RetryFailed: true, MaxRetries: 3}
	summary := NewRecovery(r, cfg).Run()
	assert.Equal(t, 1, summary.Retried)

	retried, err := r.Get(seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.Error)

	kept, err := r.Get(exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, kept.Status)
}

func TestRecoveryIsIdempotent(t *testing.T) {
	mirror := newMemMirror()
	seedRegistry(t, mirror, StatusProcessing, StatusProcessing)

	r := NewRegistry(mirror)
	_, err := r.Restore()
	require.NoError(t, err)

	rec := NewRecovery(r, DefaultRecoveryConfig())
	first := rec.Run()
	assert.Equal(t, 2, first.Requeued)

	second := rec.Run()
	assert.Equal(t, 0, second.Recovered)
}

func TestRecoveryScheduleQueued(t *testing.T) {
	mirror := newMemMirror()
	seedRegistry(t, mirror, StatusProcessing, StatusQueued, StatusCompleted)

	r := NewRegistry(mirror)
	_, err := r.Restore()
	require.NoError(t, err)

	sched := &captureScheduler{}
	r.SetScheduler(sched)

	rec := NewRecovery(r, DefaultRecoveryConfig())
	rec.Run()
	n := rec.ScheduleQueued()

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, sched.count())
}

func TestRetentionSweeper(t *testing.T) {
	mirror := newMemMirror()
	r := NewRegistry(mirror)

	old := New("old.pdf", DefaultConvertOptions())
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, r.Submit(old))
	require.NoError(t, r.Cancel(old.ID))

	s := NewRetentionSweeper(r, time.Minute, 10*time.Millisecond)
	s.Start()

	assert.Eventually(t, func() bool {
		_, err := r.Get(old.ID)
		return IsNotFound(err)
	}, time.Second, 10*time.Millisecond)

	s.Stop()
}
