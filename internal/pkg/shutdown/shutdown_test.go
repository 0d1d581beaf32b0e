package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
)

func TestShutdownRunsHandlersInReverseOrder(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var order []string
	for _, name := range []string{"store", "dispatcher", "http"} {
		name := name
		mgr.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	mgr.Shutdown()

	want := []string{"http", "dispatcher", "store"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var called bool
	mgr.RegisterSimple("first", func() { called = true })
	mgr.Register("failing", func(context.Context) error { return errors.New("boom") })

	mgr.Shutdown()

	if !called {
		t.Error("expected handler registered before the failing one to run")
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	calls := 0
	mgr.RegisterSimple("counter", func() { calls++ })

	mgr.Shutdown()
	mgr.Shutdown()

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	select {
	case <-mgr.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestShutdownDeadlineIsShared(t *testing.T) {
	mgr := NewManager(logger.Discard(), 50*time.Millisecond)

	mgr.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	mgr.Shutdown()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %s, expected it to honour the deadline", elapsed)
	}
}

func TestWaitReturnsOnContextCancel(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finished := make(chan struct{})
	go func() {
		mgr.Wait(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancel")
	}
}
