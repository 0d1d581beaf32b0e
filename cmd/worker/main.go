package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ekrata/echomimic-v2/internal/app"
	"github.com/ekrata/echomimic-v2/internal/config"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/pkg/shutdown"
	"github.com/ekrata/echomimic-v2/internal/staging"
	"github.com/ekrata/echomimic-v2/internal/storage"
	"github.com/ekrata/echomimic-v2/internal/worker"
)

func main() {
	cfg, err := config.Load(config.RoleWorker)
	if err != nil {
		logger.New(logger.Config{ServiceName: "echomimic-worker"}).LogFatal("invalid configuration", err)
	}
	if cfg.Dispatch.Mode != config.DispatchRedis {
		logger.New(logger.Config{ServiceName: "echomimic-worker"}).
			Error("the worker consumes the Redis queue; set DISPATCH_MODE=redis")
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Log, "echomimic-worker")
	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	jobs, _, err := app.OpenJobStore(ctx, cfg.JobStore, log, shutdownMgr)
	if err != nil {
		log.LogFatal("failed to open job store", err)
	}
	app.StartSweeper(cfg.JobStore, jobs, log, shutdownMgr)

	rdb, err := app.OpenRedis(ctx, cfg.Redis, log, shutdownMgr)
	if err != nil {
		log.LogFatal("failed to connect to Redis", err)
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	p, err := app.NewPipeline(cfg, jobs, staging.New(cfg.Staging.Root), sp, log)
	if err != nil {
		log.LogFatal("failed to build pipeline", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = worker.Run(runCtx, worker.Deps{
		Queue:     worker.NewRedisQueue(rdb, cfg.Dispatch.QueueKey),
		Consumers: cfg.Dispatch.Concurrency,
		Run:       p.Coordinator.Execute,
		Log:       log,
	})
	if err != nil {
		log.Error("worker stopped with error", "error", err.Error())
	}

	shutdownMgr.Shutdown()
}
