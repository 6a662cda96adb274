package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bookforge/bookforge/pkg/job"
)

func finishedJob(status job.Status, d time.Duration) *job.Job {
	j := job.New("scan.pdf", job.DefaultConvertOptions())
	j.Status = status
	start := time.Now().UTC().Add(-d)
	end := start.Add(d)
	j.StartedAt = &start
	j.CompletedAt = &end
	return j
}

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.JobSubmitted()
	c.JobSubmitted()
	c.JobFinished(finishedJob(job.StatusCompleted, 2*time.Second))
	c.JobFinished(finishedJob(job.StatusFailed, 4*time.Second))
	c.JobFinished(finishedJob(job.StatusCancelled, 0))
	c.Request()
	c.RequestLimited()

	s := c.Snapshot()
	assert.EqualValues(t, 2, s.JobsSubmitted)
	assert.EqualValues(t, 1, s.JobsCompleted)
	assert.EqualValues(t, 1, s.JobsFailed)
	assert.EqualValues(t, 1, s.JobsCancelled)
	assert.EqualValues(t, 1, s.RequestsTotal)
	assert.EqualValues(t, 1, s.RequestsLimited)
	assert.InDelta(t, 3.0, s.AvgProcessingSec, 0.01)
}

func TestCollectorConcurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.JobSubmitted()
			c.Request()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.EqualValues(t, 50, s.JobsSubmitted)
	assert.EqualValues(t, 50, s.RequestsTotal)
}
