// Package metrics keeps lightweight service counters. Counters are plain
// atomics updated on the hot path and read as a snapshot by the stats
// endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/bookforge/bookforge/pkg/job"
)

// Collector accumulates service counters. The zero value is not usable;
// create one with New.
type Collector struct {
	startedAt time.Time

	jobsSubmitted atomic.Int64
	jobsCompleted atomic.Int64
	jobsFailed    atomic.Int64
	jobsCancelled atomic.Int64

	requestsTotal    atomic.Int64
	requestsLimited  atomic.Int64
	processingNanos  atomic.Int64
	processingCounts atomic.Int64
}

// New creates a collector anchored at the current time.
func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// JobSubmitted counts an admitted job.
func (c *Collector) JobSubmitted() {
	c.jobsSubmitted.Add(1)
}

// JobFinished counts a terminal transition and, when both timestamps are
// present, folds the processing duration into the running average.
func (c *Collector) JobFinished(j *job.Job) {
	switch j.Status {
	case job.StatusCompleted:
		c.jobsCompleted.Add(1)
	case job.StatusFailed:
		c.jobsFailed.Add(1)
	case job.StatusCancelled:
		c.jobsCancelled.Add(1)
	default:
		return
	}
	if d := j.Duration(); d > 0 {
		c.processingNanos.Add(int64(d))
		c.processingCounts.Add(1)
	}
}

// Request counts an HTTP request.
func (c *Collector) Request() {
	c.requestsTotal.Add(1)
}

// RequestLimited counts a request rejected by admission control.
func (c *Collector) RequestLimited() {
	c.requestsLimited.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UptimeSeconds    int64   `json:"uptime_seconds"`
	JobsSubmitted    int64   `json:"jobs_submitted"`
	JobsCompleted    int64   `json:"jobs_completed"`
	JobsFailed       int64   `json:"jobs_failed"`
	JobsCancelled    int64   `json:"jobs_cancelled"`
	RequestsTotal    int64   `json:"requests_total"`
	RequestsLimited  int64   `json:"requests_limited"`
	AvgProcessingSec float64 `json:"avg_processing_seconds"`
}

// Snapshot reads the counters.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		UptimeSeconds:   int64(time.Since(c.startedAt).Seconds()),
		JobsSubmitted:   c.jobsSubmitted.Load(),
		JobsCompleted:   c.jobsCompleted.Load(),
		JobsFailed:      c.jobsFailed.Load(),
		JobsCancelled:   c.jobsCancelled.Load(),
		RequestsTotal:   c.requestsTotal.Load(),
		RequestsLimited: c.requestsLimited.Load(),
	}
	if n := c.processingCounts.Load(); n > 0 {
		s.AvgProcessingSec = time.Duration(c.processingNanos.Load() / n).Seconds()
	}
	return s
}
