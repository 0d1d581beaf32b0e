// Package shutdown runs registered cleanup steps when the process is asked to stop.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
)

// Manager collects cleanup handlers and runs them in reverse registration
// order under one shared deadline.
type Manager struct {
	log      *logger.Logger
	timeout  time.Duration
	mu       sync.Mutex
	handlers []Handler
	once     sync.Once
	done     chan struct{}
}

// Handler is one named cleanup step.
type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

// NewManager creates a Manager; a zero timeout means 30s.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		log:     log,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register appends a cleanup handler. Later registrations run first.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, Handler{Name: name, Cleanup: cleanup})
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterSimple registers a cleanup that cannot fail.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(context.Context) error {
		cleanup()
		return nil
	})
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then runs Shutdown.
func (m *Manager) Wait(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		m.log.Info("context canceled, initiating shutdown")
	} else {
		m.log.Info("shutdown signal received")
	}

	m.Shutdown()
}

// Shutdown runs every handler once, last registered first. A handler that
// overruns the deadline does not stop the remaining ones from being called.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		handlers := make([]Handler, len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.log.Info("starting graceful shutdown", "handlers", len(handlers), "timeout", m.timeout.String())

		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			start := time.Now()
			if err := h.Cleanup(ctx); err != nil {
				m.log.Error("shutdown handler failed",
					"name", h.Name,
					"error", err.Error(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
				continue
			}
			m.log.Debug("shutdown handler completed",
				"name", h.Name,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}

		if ctx.Err() != nil {
			m.log.Warn("shutdown deadline exceeded")
		} else {
			m.log.Info("graceful shutdown completed")
		}
		close(m.done)
	})
}

// Done is closed once Shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
