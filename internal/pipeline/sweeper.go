package pipeline

import (
	"context"
	"time"

	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// Sweeper fails queued or running jobs whose process went away. The queue
// pop and the job run are not atomic, so a crash between them, or mid-job,
// leaves a record that would otherwise hold its (brand, video) pair forever.
type Sweeper struct {
	jobs       ports.JobStore
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// NewSweeper returns a Sweeper. A zero interval sweeps only once.
func NewSweeper(jobs ports.JobStore, staleAfter, interval time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Discard()
	}
	return &Sweeper{
		jobs:       jobs,
		staleAfter: staleAfter,
		interval:   interval,
		now:        time.Now,
		log:        log.WithComponent("sweeper"),
	}
}

// Sweep runs one pass and returns how many jobs it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	n, err := s.jobs.AbandonStale(ctx, cutoff)
	if err != nil {
		s.log.LogError(ctx, "stale job sweep failed", err)
		return 0, err
	}
	if n > 0 {
		s.log.Warn("failed abandoned jobs", "count", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

// Run sweeps immediately, then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	_, _ = s.Sweep(ctx)
	if s.interval <= 0 {
		return
	}

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
