// Package handlers implements the HTTP endpoints of the generation API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ekrata/echomimic-v2/internal/httpkit"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/ports"
	"github.com/ekrata/echomimic-v2/internal/staging"
)

type Deps struct {
	Jobs       ports.JobStore
	Stager     *staging.Stager
	Dispatcher ports.Dispatcher
	SP         ports.StorageProvider

	// Pool and RDB are optional; when set, deep health checks report them.
	Pool *pgxpool.Pool
	RDB  *redis.Client

	// Checks are extra named checks for deep health checks.
	Checks map[string]func(context.Context) error

	RetryAfter     time.Duration
	MaxUploadBytes int64
	Log            *logger.Logger
}

type Handler struct {
	jobs       ports.JobStore
	stager     *staging.Stager
	dispatcher ports.Dispatcher
	sp         ports.StorageProvider
	pool       *pgxpool.Pool
	rdb        *redis.Client
	checks     map[string]func(context.Context) error

	retryAfter     time.Duration
	maxUploadBytes int64
	log            *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 512 << 20
	}
	return &Handler{
		jobs:           d.Jobs,
		stager:         d.Stager,
		dispatcher:     d.Dispatcher,
		sp:             d.SP,
		pool:           d.Pool,
		rdb:            d.RDB,
		checks:         d.Checks,
		retryAfter:     d.RetryAfter,
		maxUploadBytes: maxUpload,
		log:            log.WithComponent("http"),
	}
}

// Log returns the handler logger, for error rendering middleware.
func (h *Handler) Log() *logger.Logger { return h.log }

// Root answers GET /.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	httpkit.WriteJSON(w, http.StatusOK, map[string]string{"Hello": "World"})
}
