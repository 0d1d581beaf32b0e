package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// Retention defaults for the in-memory store.
const (
	DefaultRetention  = 24 * time.Hour
	DefaultMaxRecords = 10000
)

// MemoryJobRepository keeps job records in process memory. It is the store
// for single-process deployments (DISPATCH_MODE=inproc). Terminal records are
// evicted after the retention period, oldest first once maxRecords is reached.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.JobRecord
	now  func() time.Time

	retention  time.Duration
	maxRecords int
}

type MemoryOption func(*MemoryJobRepository)

// WithRetention sets how long terminal records are kept.
func WithRetention(d time.Duration) MemoryOption {
	return func(r *MemoryJobRepository) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithMaxRecords caps the number of records kept.
func WithMaxRecords(n int) MemoryOption {
	return func(r *MemoryJobRepository) {
		if n > 0 {
			r.maxRecords = n
		}
	}
}

func NewMemoryJobRepository(opts ...MemoryOption) *MemoryJobRepository {
	r := &MemoryJobRepository{
		jobs:       make(map[string]models.JobRecord),
		now:        func() time.Time { return time.Now().UTC() },
		retention:  DefaultRetention,
		maxRecords: DefaultMaxRecords,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryJobRepository) Create(_ context.Context, rec models.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[rec.ID]; ok {
		return fmt.Errorf("job %s: %w", rec.ID, ports.ErrJobConflict)
	}
	for _, j := range r.jobs {
		if j.BrandID == rec.BrandID && j.VideoID == rec.VideoID && !j.State.Terminal() {
			return fmt.Errorf("%s/%s held by %s: %w", rec.BrandID, rec.VideoID, j.ID, ports.ErrJobConflict)
		}
	}

	if rec.State == "" {
		rec.State = models.JobQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	rec.UpdatedAt = rec.CreatedAt

	r.prune()
	r.jobs[rec.ID] = rec
	return nil
}

// prune evicts expired terminal records, then the oldest terminal records
// while the store is at capacity. Callers hold r.mu.
func (r *MemoryJobRepository) prune() {
	cutoff := r.now().Add(-r.retention)
	var terminal []models.JobRecord
	for id, j := range r.jobs {
		if !j.State.Terminal() {
			continue
		}
		if j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			continue
		}
		terminal = append(terminal, j)
	}

	excess := len(r.jobs) - r.maxRecords + 1
	if excess <= 0 {
		return
	}
	sort.Slice(terminal, func(a, b int) bool {
		return finishedAt(terminal[a]).Before(finishedAt(terminal[b]))
	})
	for i := 0; i < excess && i < len(terminal); i++ {
		delete(r.jobs, terminal[i].ID)
	}
}

func finishedAt(j models.JobRecord) time.Time {
	if j.FinishedAt != nil {
		return *j.FinishedAt
	}
	return j.CreatedAt
}

func (r *MemoryJobRepository) MarkRunning(_ context.Context, jobID string, stage models.Stage) error {
	return r.update(jobID, func(j *models.JobRecord) {
		if j.StartedAt == nil {
			t := r.now()
			j.StartedAt = &t
		}
		j.State = models.JobRunning
		j.Stage = stage
	})
}

func (r *MemoryJobRepository) MarkSucceeded(_ context.Context, jobID string, storedKey string) error {
	return r.update(jobID, func(j *models.JobRecord) {
		t := r.now()
		j.State = models.JobSucceeded
		j.StoredKey = storedKey
		j.FinishedAt = &t
	})
}

func (r *MemoryJobRepository) MarkFailed(_ context.Context, jobID string, failure models.Failure) error {
	return r.update(jobID, func(j *models.JobRecord) {
		t := r.now()
		f := failure
		j.State = models.JobFailed
		j.Stage = failure.Stage
		j.Failure = &f
		j.FinishedAt = &t
	})
}

func (r *MemoryJobRepository) update(jobID string, fn func(*models.JobRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ports.ErrJobNotFound)
	}
	if j.State.Terminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, j.State, ports.ErrJobFinished)
	}
	fn(&j)
	j.UpdatedAt = r.now()
	r.jobs[jobID] = j
	return nil
}

func (r *MemoryJobRepository) AbandonStale(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	now := r.now()
	for id, j := range r.jobs {
		if j.State.Terminal() || !j.UpdatedAt.Before(cutoff) {
			continue
		}
		stage := j.Stage
		if stage == "" {
			stage = models.StageDispatch
		}
		t := now
		j.State = models.JobFailed
		j.Stage = stage
		j.Failure = &models.Failure{Stage: stage, Kind: models.FailureAbandoned, Message: abandonedMessage}
		j.FinishedAt = &t
		j.UpdatedAt = now
		r.jobs[id] = j
		n++
	}
	return n, nil
}

func (r *MemoryJobRepository) Get(_ context.Context, jobID string) (models.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return models.JobRecord{}, fmt.Errorf("job %s: %w", jobID, ports.ErrJobNotFound)
	}
	return j, nil
}

// List returns matching jobs, newest first.
func (r *MemoryJobRepository) List(_ context.Context, f models.JobFilter) ([]models.JobRecord, error) {
	r.mu.RLock()
	out := make([]models.JobRecord, 0, len(r.jobs))
	for _, j := range r.jobs {
		if matches(j, f) {
			out = append(out, j)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})

	limit := normalizeLimit(f.Limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepository) Ping(context.Context) error { return nil }

func matches(j models.JobRecord, f models.JobFilter) bool {
	if f.BrandID != "" && j.BrandID != f.BrandID {
		return false
	}
	if f.VideoID != "" && j.VideoID != f.VideoID {
		return false
	}
	if f.State != "" && j.State != f.State {
		return false
	}
	return true
}

const abandonedMessage = "no progress recorded before the stale cutoff"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func normalizeLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}
