package runner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrRunActive is returned by Start while another run is in progress.
var ErrRunActive = errors.New("a run is already active")

// Manager allows at most one run at a time and lets it be stopped from
// another goroutine (an HTTP handler, a signal).
type Manager struct {
	runner *Runner
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *Result
}

// Result is the outcome of a finished run.
type Result struct {
	Summary Summary
	Err     error
}

// NewManager wraps a runner.
func NewManager(runner *Runner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{runner: runner, logger: logger.With(zap.String("component", "run_manager"))}
}

// Start launches a run in the background. The run is detached from ctx's
// cancellation so that a short-lived request context does not stop it; use
// Stop instead. The returned channel is closed when the run finishes.
func (m *Manager) Start(ctx context.Context, o Overrides) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return nil, ErrRunActive
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer cancel()
		summary, err := m.runner.RunWith(runCtx, o)
		if err != nil {
			m.logger.Error("run ended with error", zap.String("run_id", summary.RunID), zap.Error(err))
		}

		m.mu.Lock()
		m.last = &Result{Summary: summary, Err: err}
		m.cancel = nil
		m.done = nil
		m.mu.Unlock()
		close(done)
	}()

	return done, nil
}

// Stop asks the active run to halt after its current turn. It reports
// whether a run was active.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// Active reports whether a run is in progress.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// State returns the phase of the runner's loop.
func (m *Manager) State() State {
	return m.runner.State()
}

// Last returns the result of the most recently finished run, if any.
func (m *Manager) Last() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}

// Wait blocks until the active run (if any) finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
