package ports

import (
	"context"
	"errors"

	"github.com/ekrata/echomimic-v2/internal/models"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("dispatch queue full")

// Handle identifies an accepted submission. Done is closed when the job
// reaches a terminal state; it is nil when the job runs in another process.
type Handle struct {
	JobID string
	Done  <-chan struct{}
}

// Dispatcher hands a job to a background execution context without waiting
// for it to run.
type Dispatcher interface {
	Submit(ctx context.Context, desc models.JobDescriptor) (Handle, error)
	Ping(ctx context.Context) error
}
