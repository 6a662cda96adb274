package api

import (
	"net/http"
	"sync/atomic"
)

// HealthHandler handles GET /api/health with a shallow service summary.
func HealthHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"jobs":   deps.Registry.Stats(),
			"pool":   deps.Pool.Stats(),
		})
	}
}

// StatsHandler handles GET /api/stats with service counters.
func StatsHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"metrics": deps.Metrics.Snapshot(),
			"jobs":    deps.Registry.Stats(),
			"pool":    deps.Pool.Stats(),
		})
	}
}

// ReadyzHandler reports readiness: 200 once startup finished, 503 while
// starting or draining.
func ReadyzHandler(ready *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	}
}
