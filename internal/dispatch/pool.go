// Package dispatch hands staged jobs to an execution context without
// blocking the request that created them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// RunFunc executes one job to a terminal state.
type RunFunc func(ctx context.Context, desc models.JobDescriptor)

type task struct {
	ctx  context.Context
	desc models.JobDescriptor
	done chan struct{}
}

// Pool runs jobs on an ants pool of Concurrency workers. At most
// Concurrency+QueueDepth jobs are outstanding; Submit fails fast with
// ports.ErrQueueFull beyond that.
type Pool struct {
	pool  *ants.Pool
	run   RunFunc
	log   *logger.Logger
	slots chan struct{}
	queue chan task

	mu     sync.RWMutex
	closed bool

	inflight   sync.WaitGroup
	feederDone chan struct{}
}

func NewPool(concurrency, depth int, run RunFunc, log *logger.Logger) (*Pool, error) {
	if concurrency < 1 || depth < 0 {
		return nil, fmt.Errorf("dispatch: invalid concurrency=%d depth=%d", concurrency, depth)
	}
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithComponent("dispatcher")

	p := &Pool{
		run:        run,
		log:        log,
		slots:      make(chan struct{}, concurrency+depth),
		queue:      make(chan task, concurrency+depth),
		feederDone: make(chan struct{}),
	}

	pool, err := ants.NewPool(concurrency, ants.WithPanicHandler(func(v any) {
		log.Error("job worker panicked", "panic", fmt.Sprint(v))
	}))
	if err != nil {
		return nil, fmt.Errorf("dispatch: create pool: %w", err)
	}
	p.pool = pool

	go p.feed()
	return p, nil
}

// Submit enqueues desc and returns immediately. The job runs with a context
// detached from ctx's cancellation but carrying its values.
func (p *Pool) Submit(ctx context.Context, desc models.JobDescriptor) (ports.Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ports.Handle{}, ErrClosed
	}

	select {
	case p.slots <- struct{}{}:
	default:
		return ports.Handle{}, fmt.Errorf("job %s: %w", desc.JobID, ports.ErrQueueFull)
	}

	t := task{
		ctx:  logger.ContextWithJobID(context.WithoutCancel(ctx), desc.JobID),
		desc: desc,
		done: make(chan struct{}),
	}
	p.inflight.Add(1)
	p.queue <- t

	p.log.FromContext(ctx).Debug("job queued", "job_id", desc.JobID, "outstanding", len(p.slots))
	return ports.Handle{JobID: desc.JobID, Done: t.done}, nil
}

func (p *Pool) feed() {
	defer close(p.feederDone)
	for t := range p.queue {
		t := t
		if err := p.pool.Submit(func() { p.execute(t) }); err != nil {
			p.log.Error("pool rejected job", "job_id", t.desc.JobID, "error", err.Error())
			p.finish(t)
		}
	}
}

func (p *Pool) execute(t task) {
	defer p.finish(t)
	p.run(t.ctx, t.desc)
}

func (p *Pool) finish(t task) {
	close(t.done)
	<-p.slots
	p.inflight.Done()
}

// Ping reports whether the dispatcher accepts work.
func (p *Pool) Ping(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

// Stats returns the number of running workers and outstanding jobs.
func (p *Pool) Stats() (running, outstanding int) {
	return p.pool.Running(), len(p.slots)
}

// Close stops accepting work and waits for accepted jobs until ctx ends.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.inflight.Wait()
		<-p.feederDone
		close(drained)
	}()

	start := time.Now()
	select {
	case <-drained:
		p.pool.Release()
		p.log.Info("dispatcher drained", "duration_ms", time.Since(start).Milliseconds())
		return nil
	case <-ctx.Done():
		_, outstanding := p.Stats()
		p.log.Warn("dispatcher drain interrupted", "outstanding", outstanding)
		return ctx.Err()
	}
}
