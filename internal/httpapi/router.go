// Package httpapi wires the HTTP routes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ekrata/echomimic-v2/internal/httpapi/handlers"
	"github.com/ekrata/echomimic-v2/internal/httpkit"
	"github.com/ekrata/echomimic-v2/internal/pkg/middleware"
)

type Options struct {
	AllowedOrigins []string
	// RequestTimeout bounds read-only routes. Uploads are bounded by the
	// server read timeout instead.
	RequestTimeout time.Duration
}

func NewRouter(h *handlers.Handler, opt Options) http.Handler {
	r := chi.NewRouter()
	log := h.Log()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	if len(opt.AllowedOrigins) > 0 {
		r.Use(httpkit.CORS(httpkit.CORSOptions{
			AllowedOrigins: opt.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
			MaxAgeSeconds:  600,
		}))
	}

	// ---- GENERATION ----
	r.Post("/start_generation/{video_id}", middleware.WrapHandler(log, h.StartGeneration))

	r.Group(func(r chi.Router) {
		if opt.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opt.RequestTimeout))
		}

		r.Get("/", h.Root)
		r.Get("/health", h.Health)

		// ---- JOBS ----
		r.Get("/jobs", middleware.WrapHandler(log, h.ListJobs))
		r.Get("/jobs/{jobId}", middleware.WrapHandler(log, h.GetJob))
	})

	return r
}
