package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bookforge/bookforge/pkg/job"
)

func withStatuses(statuses ...job.Status) []*job.Job {
	out := make([]*job.Job, 0, len(statuses))
	for _, st := range statuses {
		j := job.New("scan.pdf", job.DefaultConvertOptions())
		j.Status = st
		out = append(out, j)
	}
	return out
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name     string
		statuses []job.Status
		want     Status
	}{
		{"all queued", []job.Status{job.StatusQueued, job.StatusQueued}, StatusQueued},
		{"one processing", []job.Status{job.StatusQueued, job.StatusProcessing}, StatusProcessing},
		{"queued with finished members", []job.Status{job.StatusQueued, job.StatusCompleted}, StatusProcessing},
		{"all completed", []job.Status{job.StatusCompleted, job.StatusCompleted}, StatusCompleted},
		{"mixed outcome", []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCompleted}, StatusPartiallyCompleted},
		{"completed and cancelled", []job.Status{job.StatusCompleted, job.StatusCancelled}, StatusPartiallyCompleted},
		{"all failed", []job.Status{job.StatusFailed, job.StatusFailed}, StatusFailed},
		{"failed and cancelled", []job.Status{job.StatusFailed, job.StatusCancelled}, StatusFailed},
		{"all cancelled", []job.Status{job.StatusCancelled, job.StatusCancelled}, StatusCancelled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Derive(withStatuses(tc.statuses...)))
		})
	}
}

func TestCount(t *testing.T) {
	p := Count(withStatuses(job.StatusQueued, job.StatusProcessing, job.StatusCompleted, job.StatusCompleted, job.StatusFailed))
	assert.Equal(t, Progress{Total: 5, Queued: 1, Processing: 1, Completed: 2, Failed: 1}, p)
}
