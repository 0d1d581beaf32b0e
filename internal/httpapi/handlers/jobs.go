package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ekrata/echomimic-v2/internal/httpkit"
	"github.com/ekrata/echomimic-v2/internal/models"
	apperrors "github.com/ekrata/echomimic-v2/internal/pkg/errors"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// GetJob handles GET /jobs/{jobId}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) error {
	jobID := chi.URLParam(r, "jobId")

	rec, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ports.ErrJobNotFound) {
			return apperrors.NotFound("job", jobID)
		}
		return apperrors.Wrap(err, "jobs.get", "failed to load job")
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": rec})
	return nil
}

// ListJobs handles GET /jobs?brand_id=&video_id=&status=&limit=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	filter := models.JobFilter{
		BrandID: strings.TrimSpace(q.Get("brand_id")),
		VideoID: strings.TrimSpace(q.Get("video_id")),
	}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		filter.State = models.JobState(strings.ToUpper(s))
		if !filter.State.Valid() {
			return apperrors.ValidationField("status", "status must be one of QUEUED, RUNNING, SUCCEEDED, FAILED")
		}
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return apperrors.ValidationField("limit", "limit must be a positive integer")
		}
		filter.Limit = n
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		return apperrors.Wrap(err, "jobs.list", "failed to list jobs")
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	return nil
}
