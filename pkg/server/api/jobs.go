package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/bookforge/bookforge/pkg/job"
)

// ConvertHandler handles POST /api/convert.
//
// Accepts a multipart form with a "file" part and optional option fields
// (dpi, deskew, upscale, ocr, advanced, priority). Responds 202 with the
// queued job's identity; conversion happens asynchronously.
func ConvertHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, priority, err := parseConvertForm(r, deps.MaxUploadBytes)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, r, job.NewValidationError("file", "multipart field \"file\" is required"))
			return
		}
		defer file.Close()

		j := job.New(filepath.Base(header.Filename), opts)
		j.Priority = priority

		inputPath, err := saveUpload(deps.UploadDir, j.ID, header.Filename, file)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		j.InputPath = inputPath

		if err := deps.Registry.Submit(j); err != nil {
			_ = os.Remove(inputPath)
			WriteError(w, r, err)
			return
		}
		deps.Metrics.JobSubmitted()

		WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id":     j.ID,
			"status":     j.Status,
			"created_at": j.CreatedAt,
		})
	}
}

// GetJobHandler handles GET /api/jobs/{id}.
func GetJobHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		j, err := deps.Registry.Get(id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, j)
	}
}

// DownloadHandler handles GET /api/jobs/{id}/download.
//
// Streams the output artifact. A job that has not completed yet yields
// 409; an unknown job 404.
func DownloadHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		j, err := deps.Registry.Get(id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if j.Status != job.StatusCompleted {
			WriteError(w, r, job.NewConflictError("job %s is %s, output is only available once completed", id, j.Status))
			return
		}

		name := j.InputFilename
		if name == "" {
			name = j.ID.String() + ".pdf"
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		http.ServeFile(w, r, j.OutputPath)
	}
}

// CancelJobHandler handles DELETE /api/jobs/{id}.
func CancelJobHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if err := deps.Registry.Cancel(id); err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": id,
			"status": job.StatusCancelled,
		})
	}
}

// HistoryHandler handles GET /api/jobs/history.
//
// Query parameters: status (filter), limit (default 50, max 500), offset.
// Jobs are returned newest first.
func HistoryHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, r, job.NewValidationError("limit", "must be a positive integer"))
				return
			}
			if n > 500 {
				n = 500
			}
			limit = n
		}
		offset := 0
		if v := r.URL.Query().Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				WriteError(w, r, job.NewValidationError("offset", "must be a non-negative integer"))
				return
			}
			offset = n
		}

		var statusFilter job.Status
		if v := r.URL.Query().Get("status"); v != "" {
			st, err := job.ParseStatus(v)
			if err != nil {
				WriteError(w, r, job.NewValidationError("status", err.Error()))
				return
			}
			statusFilter = st
		}

		all := deps.Registry.List()
		filtered := all[:0:0]
		for _, j := range all {
			if statusFilter != "" && j.Status != statusFilter {
				continue
			}
			filtered = append(filtered, j)
		}

		total := len(filtered)
		if offset > total {
			offset = total
		}
		end := offset + limit
		if end > total {
			end = total
		}

		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":   filtered[offset:end],
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// RetryJobHandler handles POST /api/jobs/{id}/retry.
//
// A failed job is resubmitted as a fresh queued job; the response carries
// the new job's identity.
func RetryJobHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		retry, err := deps.Registry.Retry(id)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		deps.Metrics.JobSubmitted()
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":       retry.ID,
			"status":       retry.Status,
			"retry_count":  retry.RetryCount,
			"original_job": id,
		})
	}
}

// pathID parses the {id} path segment as a UUID.
func pathID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, job.NewValidationError("id", fmt.Sprintf("%q is not a valid job ID", raw))
	}
	return id, nil
}

// parseConvertForm reads conversion options and priority from the form.
func parseConvertForm(r *http.Request, maxBytes int64) (job.ConvertOptions, job.Priority, error) {
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return job.ConvertOptions{}, 0, job.NewValidationError("body", "expected multipart form data")
	}

	opts := job.DefaultConvertOptions()
	if v := r.FormValue("dpi"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return opts, 0, job.NewValidationError("dpi", "must be an integer")
		}
		opts.DPI = n
	}
	var err error
	if opts.Deskew, err = formBool(r, "deskew", opts.Deskew); err != nil {
		return opts, 0, err
	}
	if opts.Upscale, err = formBool(r, "upscale", opts.Upscale); err != nil {
		return opts, 0, err
	}
	if opts.OCR, err = formBool(r, "ocr", opts.OCR); err != nil {
		return opts, 0, err
	}
	if opts.Advanced, err = formBool(r, "advanced", opts.Advanced); err != nil {
		return opts, 0, err
	}

	priority, perr := job.ParsePriority(r.FormValue("priority"))
	if perr != nil {
		return opts, 0, job.NewValidationError("priority", perr.Error())
	}
	return opts, priority, nil
}

func formBool(r *http.Request, field string, def bool) (bool, error) {
	v := r.FormValue(field)
	if v == "" {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def, job.NewValidationError(field, "must be true or false")
	}
	return b, nil
}

// saveUpload writes an uploaded file under the upload directory, prefixed
// with the job ID so concurrent uploads of the same filename never clash.
func saveUpload(dir string, id uuid.UUID, filename string, src multipart.File) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, id.String()+"_"+filepath.Base(filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}
