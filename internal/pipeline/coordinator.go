// Package pipeline runs one generation job through inference, optional
// compositing and publishing, recording each transition in the job store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/ports"
	"github.com/ekrata/echomimic-v2/internal/publisher"
)

// Workspaces removes a job's staging directory.
type Workspaces interface {
	Remove(jobID string) error
}

type Deps struct {
	Jobs       ports.JobStore
	Inference  ports.Inference
	Compositor ports.Compositor
	Publisher  *publisher.Publisher
	Workspaces Workspaces

	// InferenceTimeout bounds one Generate call. Zero means no deadline.
	InferenceTimeout time.Duration
	CleanupLocal     bool

	Log *logger.Logger
}

type Coordinator struct {
	jobs       ports.JobStore
	inference  ports.Inference
	compositor ports.Compositor
	publisher  *publisher.Publisher
	workspaces Workspaces

	inferenceTimeout time.Duration
	cleanupLocal     bool

	log *logger.Logger
}

func New(d Deps) *Coordinator {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Coordinator{
		jobs:             d.Jobs,
		inference:        d.Inference,
		compositor:       d.Compositor,
		publisher:        d.Publisher,
		workspaces:       d.Workspaces,
		inferenceTimeout: d.InferenceTimeout,
		cleanupLocal:     d.CleanupLocal,
		log:              log.WithComponent("pipeline"),
	}
}

// Execute runs desc and discards the outcome, which is already recorded in
// the job store. It satisfies dispatch.RunFunc.
func (c *Coordinator) Execute(ctx context.Context, desc models.JobDescriptor) {
	_ = c.Run(ctx, desc)
}

// Run drives desc to a terminal state. It returns the models.Failure that
// ended the job, or nil on success. Panics inside a stage become a
// FAILED(stage, panic) outcome.
func (c *Coordinator) Run(ctx context.Context, desc models.JobDescriptor) (err error) {
	ctx = logger.ContextWithJobID(ctx, desc.JobID)
	log := c.log.FromContext(ctx)
	start := time.Now()
	stage := models.StageInference

	defer func() {
		if r := recover(); r != nil {
			log.WithStage(string(stage)).Error("stage panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = c.fail(ctx, desc.JobID, models.Failure{Stage: stage, Kind: models.FailurePanic, Message: fmt.Sprint(r)})
		}
		c.cleanup(ctx, desc.JobID)

		state := models.JobSucceeded
		if err != nil {
			state = models.JobFailed
		}
		log.Info("job finished", "status", string(state), "duration_ms", time.Since(start).Milliseconds())
	}()

	if err := c.jobs.MarkRunning(ctx, desc.JobID, stage); err != nil {
		c.log.LogError(ctx, "cannot start job", err)
		return err
	}
	log.Info("job started", "object_key", desc.ObjectKey, "output_style", desc.OutputStyle)

	generated, f := c.generate(ctx, desc)
	if f != nil {
		return c.fail(ctx, desc.JobID, *f)
	}

	final := generated
	if models.RequiresSourceVideo(desc.OutputStyle) {
		stage = models.StagePostprocess
		c.enter(ctx, desc.JobID, stage)
		if final, f = c.compose(ctx, desc, generated); f != nil {
			return c.fail(ctx, desc.JobID, *f)
		}
	}

	stage = models.StageUpload
	c.enter(ctx, desc.JobID, stage)
	stageStart := time.Now()
	res, perr := c.publisher.Publish(ctx, final, desc.ObjectKey)
	if perr != nil {
		return c.fail(ctx, desc.JobID, models.Failure{Stage: stage, Kind: publisher.Classify(perr), Message: perr.Error()})
	}
	c.stageDone(ctx, stage, stageStart)

	if err := c.jobs.MarkSucceeded(ctx, desc.JobID, res.StoredKey); err != nil {
		c.log.LogError(ctx, "record success failed", err)
	}
	return nil
}

func (c *Coordinator) generate(ctx context.Context, desc models.JobDescriptor) (string, *models.Failure) {
	stage := models.StageInference
	start := time.Now()
	c.log.FromContext(ctx).WithStage(string(stage)).Info("stage started")

	if c.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.inferenceTimeout)
		defer cancel()
	}

	path, err := c.inference.Generate(ctx, ports.InferenceRequest{
		JobID:   desc.JobID,
		Params:  desc.Params,
		Inputs:  desc.Inputs,
		WorkDir: desc.WorkDir,
	})
	if err != nil {
		return "", &models.Failure{Stage: stage, Kind: models.FailureInference, Message: err.Error()}
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() || st.Size() == 0 {
		return "", &models.Failure{Stage: stage, Kind: models.FailureNoOutput, Message: fmt.Sprintf("inference output %q missing or empty", path)}
	}

	c.stageDone(ctx, stage, start)
	return path, nil
}

func (c *Coordinator) compose(ctx context.Context, desc models.JobDescriptor, generated string) (string, *models.Failure) {
	stage := models.StagePostprocess
	start := time.Now()

	final, err := c.compositor.Compose(ctx, ports.ComposeRequest{
		Style:       desc.OutputStyle,
		Generated:   generated,
		SourceVideo: desc.Inputs.SourceVideo,
		WorkDir:     desc.WorkDir,
	})
	switch {
	case errors.Is(err, ports.ErrNoOutput):
		return "", &models.Failure{Stage: stage, Kind: models.FailureNoOutput, Message: err.Error()}
	case err != nil:
		return "", &models.Failure{Stage: stage, Kind: models.FailureCompose, Message: err.Error()}
	}

	c.stageDone(ctx, stage, start)
	return final, nil
}

func (c *Coordinator) enter(ctx context.Context, jobID string, stage models.Stage) {
	log := c.log.FromContext(ctx).WithStage(string(stage))
	log.Info("stage started")
	if err := c.jobs.MarkRunning(ctx, jobID, stage); err != nil {
		log.WithError(err).Warn("record stage failed")
	}
}

func (c *Coordinator) stageDone(ctx context.Context, stage models.Stage, start time.Time) {
	c.log.FromContext(ctx).WithStage(string(stage)).Info("stage finished",
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (c *Coordinator) fail(ctx context.Context, jobID string, f models.Failure) error {
	log := c.log.FromContext(ctx).WithStage(string(f.Stage))
	log.Error("job failed", "kind", string(f.Kind), "error", f.Message)
	if err := c.jobs.MarkFailed(ctx, jobID, f); err != nil {
		log.WithError(err).Warn("record failure failed")
	}
	return f
}

func (c *Coordinator) cleanup(ctx context.Context, jobID string) {
	if !c.cleanupLocal || c.workspaces == nil {
		return
	}
	if err := c.workspaces.Remove(jobID); err != nil {
		c.log.FromContext(ctx).WithError(err).Warn("workspace cleanup failed")
	}
}
