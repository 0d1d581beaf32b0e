package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ekrata/echomimic-v2/internal/httpkit"
)

const healthCheckTimeout = 5 * time.Second

// Health performs a health check of the service. ?deep=true adds dependency
// checks; a failing dependency reports "degraded" with status 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "echomimic-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"job_store":  h.check(ctx, h.jobs.Ping),
		"dispatcher": h.check(ctx, h.dispatcher.Ping),
	}

	storage := h.check(ctx, h.sp.Check)
	storage["provider"] = h.sp.Provider()
	checks["storage"] = storage

	if h.pool != nil {
		stats := h.pool.Stat()
		checks["job_store"]["total_conns"] = stats.TotalConns()
		checks["job_store"]["idle_conns"] = stats.IdleConns()
		checks["job_store"]["acquired_conns"] = stats.AcquiredConns()
	}
	if h.rdb != nil {
		checks["redis"] = h.check(ctx, func(ctx context.Context) error {
			return h.rdb.Ping(ctx).Err()
		})
	}

	for name, ping := range h.checks {
		checks[name] = h.check(ctx, ping)
	}

	return checks
}

func (h *Handler) check(ctx context.Context, ping func(context.Context) error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
