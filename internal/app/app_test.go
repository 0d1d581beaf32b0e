package app

import (
	"context"
	"testing"
	"time"

	"github.com/ekrata/echomimic-v2/internal/adapters/storage/localfs"
	"github.com/ekrata/echomimic-v2/internal/config"
	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/pkg/shutdown"
	"github.com/ekrata/echomimic-v2/internal/repositories"
	"github.com/ekrata/echomimic-v2/internal/staging"
)

func TestOpenJobStoreMemory(t *testing.T) {
	log := logger.Discard()
	store, pool, err := OpenJobStore(context.Background(), config.JobStoreConfig{Kind: config.JobStoreMemory}, log, shutdown.NewManager(log, 0))
	if err != nil {
		t.Fatal(err)
	}
	if pool != nil {
		t.Error("memory store has no pool")
	}
	if _, ok := store.(*repositories.MemoryJobRepository); !ok {
		t.Errorf("unexpected store %T", store)
	}
}

func TestStartSweeper(t *testing.T) {
	ctx := context.Background()
	log := logger.Discard()
	mgr := shutdown.NewManager(log, time.Second)
	jobs := repositories.NewMemoryJobRepository()
	if err := jobs.Create(ctx, models.JobRecord{ID: "job_old", BrandID: "acme", VideoID: "v1", CreatedAt: time.Now().Add(-72 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	StartSweeper(config.JobStoreConfig{StaleAfter: time.Hour, SweepInterval: time.Hour}, jobs, log, mgr)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _ := jobs.Get(ctx, "job_old")
		if rec.State == models.JobFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stale job not swept, state %s", rec.State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mgr.Shutdown()
	select {
	case <-mgr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not stop the sweeper")
	}
}

func TestNewPipeline(t *testing.T) {
	tests := []struct {
		name      string
		inference config.InferenceConfig
		health    bool
		wantErr   bool
	}{
		{name: "http", inference: config.InferenceConfig{Mode: config.InferenceHTTP, URL: "http://inference:8000"}, health: true},
		{name: "command", inference: config.InferenceConfig{Mode: config.InferenceCommand, Command: []string{"python", "infer.py"}}},
		{name: "unknown", inference: config.InferenceConfig{Mode: "grpc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{Inference: tt.inference}
			cfg.Compositor.FFmpegPath = "ffmpeg"

			p, err := NewPipeline(cfg, repositories.NewMemoryJobRepository(), staging.New(t.TempDir()), localfs.New(t.TempDir()), logger.Discard())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if p.Coordinator == nil {
				t.Fatal("expected a coordinator")
			}
			if (p.HealthCheck != nil) != tt.health {
				t.Errorf("health check presence = %v, want %v", p.HealthCheck != nil, tt.health)
			}
		})
	}
}
