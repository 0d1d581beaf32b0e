package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ekrata/echomimic-v2/internal/models"
)

type fakeQueue struct {
	mu       sync.Mutex
	payloads []string
	errs     int
}

func (q *fakeQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	q.mu.Lock()
	if q.errs > 0 {
		q.errs--
		q.mu.Unlock()
		return "", errors.New("connection refused")
	}
	if len(q.payloads) > 0 {
		p := q.payloads[0]
		q.payloads = q.payloads[1:]
		q.mu.Unlock()
		return p, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", nil
	}
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	q := &fakeQueue{payloads: []string{
		`{"job_id":"job_1","brand_id":"acme","video_id":"v1"}`,
		`not json`,
		`{"job_id":"job_2","brand_id":"acme","video_id":"v2","request_id":"req-9"}`,
	}}

	var (
		mu  sync.Mutex
		ran []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Deps{
			Queue:      q,
			Consumers:  1,
			PopTimeout: 10 * time.Millisecond,
			Run: func(jobCtx context.Context, desc models.JobDescriptor) {
				mu.Lock()
				ran = append(ran, desc.JobID)
				n := len(ran)
				mu.Unlock()
				if n == 2 {
					cancel()
					// The job context outlives the consumer's.
					if jobCtx.Err() != nil {
						t.Error("job context canceled with worker")
					}
				}
			},
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 2 || ran[0] != "job_1" || ran[1] != "job_2" {
		t.Errorf("unexpected jobs %v", ran)
	}
}

func TestRunRetriesPopErrors(t *testing.T) {
	q := &fakeQueue{errs: 1, payloads: []string{`{"job_id":"job_1"}`}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 1)
	go func() {
		_ = Run(ctx, Deps{
			Queue:      q,
			PopTimeout: 10 * time.Millisecond,
			Run: func(_ context.Context, desc models.JobDescriptor) {
				got <- desc.JobID
				cancel()
			},
		})
	}()

	select {
	case id := <-got:
		if id != "job_1" {
			t.Errorf("unexpected job %s", id)
		}
	case <-ctx.Done():
		t.Fatal("job not processed after pop error")
	}
}
