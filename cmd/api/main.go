package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekrata/echomimic-v2/internal/app"
	"github.com/ekrata/echomimic-v2/internal/config"
	"github.com/ekrata/echomimic-v2/internal/dispatch"
	"github.com/ekrata/echomimic-v2/internal/httpapi"
	"github.com/ekrata/echomimic-v2/internal/httpapi/handlers"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/pkg/shutdown"
	"github.com/ekrata/echomimic-v2/internal/ports"
	"github.com/ekrata/echomimic-v2/internal/staging"
	"github.com/ekrata/echomimic-v2/internal/storage"
)

func main() {
	cfg, err := config.Load(config.RoleAPI)
	if err != nil {
		logger.New(logger.Config{ServiceName: "echomimic-api"}).LogFatal("invalid configuration", err)
	}

	log := app.NewLogger(cfg.Log, "echomimic-api")
	log.Info("starting echomimic API",
		"dispatch_mode", cfg.Dispatch.Mode,
		"job_store", cfg.JobStore.Kind,
		"storage_provider", cfg.Storage.Provider,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	// Job store
	jobs, pool, err := app.OpenJobStore(ctx, cfg.JobStore, log, shutdownMgr)
	if err != nil {
		log.LogFatal("failed to open job store", err)
	}
	app.StartSweeper(cfg.JobStore, jobs, log, shutdownMgr)

	// Storage provider
	log.Info("initializing storage provider")
	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	stager := staging.New(cfg.Staging.Root)
	checks := map[string]func(context.Context) error{}

	// Dispatcher
	var (
		dispatcher ports.Dispatcher
		rdb        *redis.Client
	)
	switch cfg.Dispatch.Mode {
	case config.DispatchRedis:
		rdb, err = app.OpenRedis(ctx, cfg.Redis, log, shutdownMgr)
		if err != nil {
			log.LogFatal("failed to connect to Redis", err)
		}
		dispatcher = dispatch.NewRedis(rdb, cfg.Dispatch.QueueKey, cfg.Dispatch.QueueDepth, log)

	default:
		p, err := app.NewPipeline(cfg, jobs, stager, sp, log)
		if err != nil {
			log.LogFatal("failed to build pipeline", err)
		}
		if p.HealthCheck != nil {
			checks["inference"] = p.HealthCheck
		}

		pd, err := dispatch.NewPool(cfg.Dispatch.Concurrency, cfg.Dispatch.QueueDepth, p.Coordinator.Execute, log)
		if err != nil {
			log.LogFatal("failed to create dispatcher", err)
		}
		shutdownMgr.Register("dispatcher", pd.Close)
		dispatcher = pd
	}
	log.Info("dispatcher ready",
		"mode", cfg.Dispatch.Mode,
		"concurrency", cfg.Dispatch.Concurrency,
		"queue_depth", cfg.Dispatch.QueueDepth,
	)

	h := handlers.New(handlers.Deps{
		Jobs:           jobs,
		Stager:         stager,
		Dispatcher:     dispatcher,
		SP:             sp,
		Pool:           pool,
		RDB:            rdb,
		Checks:         checks,
		RetryAfter:     cfg.Dispatch.RetryAfter,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		Log:            log,
	})
	router := httpapi.NewRouter(h, httpapi.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Registered last so it stops first: no new jobs reach the dispatcher
	// while it drains.
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait(ctx)
}
