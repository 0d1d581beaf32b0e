// Package worker consumes queued jobs in a separate process.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ekrata/echomimic-v2/internal/dispatch"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
)

// Run starts d.Consumers consumers and blocks until ctx is canceled. A job
// that has started runs to completion even after cancellation.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithComponent("worker")

	consumers := d.Consumers
	if consumers < 1 {
		consumers = 1
	}
	popTimeout := d.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		i := i
		g.Go(func() error {
			consume(ctx, d, popTimeout, log.WithFields(map[string]any{"consumer": i}))
			return nil
		})
	}
	log.Info("worker started", "consumers", consumers)

	err := g.Wait()
	log.Info("worker stopped")
	return err
}

func consume(ctx context.Context, d Deps, popTimeout time.Duration, log *logger.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := d.Queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == "" {
			continue
		}

		desc, err := dispatch.DecodeDescriptor(payload)
		if err != nil {
			log.Error("dropping malformed job payload", "error", err.Error())
			continue
		}

		jobCtx := logger.ContextWithJobID(context.WithoutCancel(ctx), desc.JobID)
		if desc.RequestID != "" {
			jobCtx = logger.ContextWithRequestID(jobCtx, desc.RequestID)
		}
		log.Info("processing job", "job_id", desc.JobID, "queued_ms", time.Since(desc.EnqueuedAt).Milliseconds())
		d.Run(jobCtx, desc)
	}
}
