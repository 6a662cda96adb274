package httpx

import (
	"net/http"

	"github.com/bookforge/bookforge/pkg/server/api"
)

// NewRouter mounts every route on a fresh mux using Go 1.22 method
// patterns. Health endpoints sit outside /api so probes bypass rate
// limiting; everything else is JSON under /api.
func NewRouter(deps *api.Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Liveness and readiness probes.
	mux.HandleFunc("GET /healthz", HealthzHandler)
	mux.HandleFunc("GET /readyz", api.ReadyzHandler(deps.Ready))

	// Job lifecycle. The literal /api/jobs/history pattern takes
	// precedence over the {id} pattern.
	mux.HandleFunc("POST /api/convert", api.ConvertHandler(deps))
	mux.HandleFunc("GET /api/jobs/history", api.HistoryHandler(deps))
	mux.HandleFunc("GET /api/jobs/{id}", api.GetJobHandler(deps))
	mux.HandleFunc("GET /api/jobs/{id}/download", api.DownloadHandler(deps))
	mux.HandleFunc("DELETE /api/jobs/{id}", api.CancelJobHandler(deps))
	mux.HandleFunc("POST /api/jobs/{id}/retry", api.RetryJobHandler(deps))

	// Batches.
	mux.HandleFunc("POST /api/batch", api.CreateBatchHandler(deps))
	mux.HandleFunc("GET /api/batch/{id}", api.GetBatchHandler(deps))
	mux.HandleFunc("GET /api/batch/{id}/jobs", api.BatchJobsHandler(deps))
	mux.HandleFunc("DELETE /api/batch/{id}", api.CancelBatchHandler(deps))

	// Introspection.
	mux.HandleFunc("GET /api/health", api.HealthHandler(deps))
	mux.HandleFunc("GET /api/stats", api.StatsHandler(deps))

	return mux
}

// HealthzHandler responds 200 while the process is alive. It checks no
// dependencies; use /readyz for that.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
