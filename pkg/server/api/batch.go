package api

import (
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/bookforge/bookforge/pkg/batch"
	"github.com/bookforge/bookforge/pkg/job"
)

// CreateBatchHandler handles POST /api/batch.
//
// Accepts a multipart form with one or more "files" parts sharing one set
// of option fields. All members are admitted or none are.
func CreateBatchHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, priority, err := parseConvertForm(r, deps.MaxUploadBytes)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		form := r.MultipartForm
		if form == nil || len(form.File["files"]) == 0 {
			WriteError(w, r, job.NewValidationError("files", "multipart field \"files\" requires at least one file"))
			return
		}

		var inputs []batch.Submission
		var saved []string
		cleanup := func() {
			for _, p := range saved {
				_ = os.Remove(p)
			}
		}
		for _, header := range form.File["files"] {
			f, err := header.Open()
			if err != nil {
				cleanup()
				WriteError(w, r, job.NewValidationError("files", "unreadable file part"))
				return
			}
			path, err := saveUpload(deps.UploadDir, uuid.New(), header.Filename, f)
			_ = f.Close()
			if err != nil {
				cleanup()
				WriteError(w, r, err)
				return
			}
			saved = append(saved, path)
			inputs = append(inputs, batch.Submission{
				InputFilename: header.Filename,
				InputPath:     path,
			})
		}

		b, err := deps.Batches.Create(inputs, opts, priority)
		if err != nil {
			cleanup()
			WriteError(w, r, err)
			return
		}
		for range b.JobIDs {
			deps.Metrics.JobSubmitted()
		}

		WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"batch_id":  b.ID,
			"status":    batch.StatusQueued,
			"job_count": len(b.JobIDs),
		})
	}
}

// GetBatchHandler handles GET /api/batch/{id}.
func GetBatchHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		snap, err := deps.Batches.Get(id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

// BatchJobsHandler handles GET /api/batch/{id}/jobs.
func BatchJobsHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		members, err := deps.Batches.Jobs(id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"batch_id": id,
			"jobs":     members,
		})
	}
}

// CancelBatchHandler handles DELETE /api/batch/{id}.
func CancelBatchHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		cancelled, err := deps.Batches.Cancel(id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		snap, err := deps.Batches.Get(id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"batch_id":       id,
			"cancelled_jobs": cancelled,
			"completed_jobs": snap.Progress.Completed,
		})
	}
}
