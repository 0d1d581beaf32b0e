// Package app assembles the long-lived components shared by cmd/api and
// cmd/worker from a config.Config.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ekrata/echomimic-v2/internal/compositor"
	"github.com/ekrata/echomimic-v2/internal/config"
	"github.com/ekrata/echomimic-v2/internal/inference"
	"github.com/ekrata/echomimic-v2/internal/pipeline"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/pkg/shutdown"
	"github.com/ekrata/echomimic-v2/internal/ports"
	"github.com/ekrata/echomimic-v2/internal/publisher"
	"github.com/ekrata/echomimic-v2/internal/repositories"
	"github.com/ekrata/echomimic-v2/internal/staging"
)

// NewLogger builds the process logger.
func NewLogger(cfg config.LogConfig, service string) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		AddSource:   cfg.AddSource,
		ServiceName: service,
	})
}

// OpenJobStore returns the configured job store. For Postgres it also
// returns the pool, registered for shutdown, with the schema applied.
func OpenJobStore(ctx context.Context, cfg config.JobStoreConfig, log *logger.Logger, mgr *shutdown.Manager) (ports.JobStore, *pgxpool.Pool, error) {
	if cfg.Kind != config.JobStorePostgres {
		log.Info("using in-memory job store")
		return repositories.NewMemoryJobRepository(
			repositories.WithRetention(cfg.Retention),
			repositories.WithMaxRecords(cfg.MaxRecords),
		), nil, nil
	}

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	mgr.RegisterSimple("postgres", pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := repositories.NewPostgresJobRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	log.Info("PostgreSQL connected")
	return repo, pool, nil
}

// StartSweeper runs the stale job sweeper in the background until shutdown.
func StartSweeper(cfg config.JobStoreConfig, jobs ports.JobStore, log *logger.Logger, mgr *shutdown.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	mgr.Register("sweeper", func(shutdownCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	})

	s := pipeline.NewSweeper(jobs, cfg.StaleAfter, cfg.SweepInterval, log)
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// OpenRedis connects to Redis and registers the client for shutdown.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger, mgr *shutdown.Manager) (*redis.Client, error) {
	log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	mgr.Register("redis", func(context.Context) error { return rdb.Close() })

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("Redis connected")
	return rdb, nil
}

// Pipeline is the job-executing side of the service.
type Pipeline struct {
	Coordinator *pipeline.Coordinator
	// HealthCheck pings the inference service; nil when inference is a command.
	HealthCheck func(context.Context) error
}

// NewPipeline wires inference, compositing and publishing into a coordinator.
func NewPipeline(cfg config.Config, jobs ports.JobStore, stager *staging.Stager, sp ports.StorageProvider, log *logger.Logger) (*Pipeline, error) {
	var (
		inf    ports.Inference
		health func(context.Context) error
	)
	switch cfg.Inference.Mode {
	case config.InferenceHTTP:
		c := inference.NewHTTPClient(cfg.Inference.URL, cfg.Inference.Timeout)
		inf, health = c, c.Ping
	case config.InferenceCommand:
		inf = inference.NewCommandRunner(cfg.Inference.Command, cfg.Inference.WorkDir, log)
	default:
		return nil, fmt.Errorf("unknown inference mode %q", cfg.Inference.Mode)
	}

	comp := compositor.New(cfg.Compositor.FFmpegPath, compositor.Profile{
		VideoCodec:  cfg.Compositor.VideoCodec,
		Preset:      cfg.Compositor.Preset,
		RCLookahead: cfg.Compositor.RCLookahead,
	}, cfg.Compositor.Timeout, log)

	coord := pipeline.New(pipeline.Deps{
		Jobs:             jobs,
		Inference:        inf,
		Compositor:       comp,
		Publisher:        publisher.New(sp, log),
		Workspaces:       stager,
		InferenceTimeout: cfg.Inference.Timeout,
		CleanupLocal:     cfg.Staging.CleanupLocal,
		Log:              log,
	})
	return &Pipeline{Coordinator: coord, HealthCheck: health}, nil
}
