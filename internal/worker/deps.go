package worker

import (
	"context"
	"time"

	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
)

// Queue yields raw job payloads.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

type Deps struct {
	Queue Queue
	// Consumers is the number of jobs processed concurrently.
	Consumers int
	// PopTimeout bounds one blocking pop so consumers notice shutdown.
	PopTimeout time.Duration
	// Run executes one job to a terminal state.
	Run func(ctx context.Context, desc models.JobDescriptor)
	Log *logger.Logger
}
