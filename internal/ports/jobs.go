package ports

import (
	"context"
	"errors"
	"time"

	"github.com/ekrata/echomimic-v2/internal/models"
)

var (
	// ErrJobConflict is returned by Create when the (brand, video) pair already
	// has a queued or running job.
	ErrJobConflict = errors.New("job already active for brand and video")
	// ErrJobNotFound is returned by Get for unknown ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when a transition targets a terminal job.
	ErrJobFinished = errors.New("job already finished")
)

// JobStore persists job records.
type JobStore interface {
	Create(ctx context.Context, rec models.JobRecord) error
	MarkRunning(ctx context.Context, jobID string, stage models.Stage) error
	MarkSucceeded(ctx context.Context, jobID string, storedKey string) error
	MarkFailed(ctx context.Context, jobID string, failure models.Failure) error
	Get(ctx context.Context, jobID string) (models.JobRecord, error)
	List(ctx context.Context, filter models.JobFilter) ([]models.JobRecord, error)
	// AbandonStale fails every queued or running job not updated since
	// cutoff with FAILED(stage, abandoned) and returns how many it failed.
	// Queued jobs fail in the dispatch stage.
	AbandonStale(ctx context.Context, cutoff time.Time) (int, error)
	Ping(ctx context.Context) error
}
