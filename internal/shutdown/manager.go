package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procam-calibration/internal/logger"
)

// InterruptedExitCode is the conventional status for a run stopped by SIGINT.
const InterruptedExitCode = 130

type hook struct {
	name string
	fn   func()
}

// Manager runs cleanup hooks when the process is interrupted. Calibration
// itself is not cancellable; hooks only flush diagnostics and release
// buffers before exit.
type Manager struct {
	mu      sync.Mutex
	hooks   []hook
	logger  logger.Logger
	done    chan struct{}
	timeout time.Duration
	exit    func(int)
	stop    chan struct{}
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger:  log,
		done:    make(chan struct{}),
		timeout: 10 * time.Second,
		exit:    os.Exit,
		stop:    make(chan struct{}),
	}
}

func (m *Manager) Register(name string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Listen runs the hooks and exits on SIGINT or SIGTERM until Stop is called.
func (m *Manager) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			m.logger.Warning("ShutdownManager", "interrupted", map[string]interface{}{
				"signal": sig.String(),
			})
			m.Shutdown()
			m.exit(InterruptedExitCode)
		case <-m.stop:
		}
	}()
}

// Stop detaches from signals without running hooks.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

// Shutdown runs every hook once, newest first. A hook that does not return
// within the timeout is abandoned.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}

	for i := len(m.hooks) - 1; i >= 0; i-- {
		h := m.hooks[i]

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			h.fn()
		}()

		select {
		case <-finished:
		case <-time.After(m.timeout):
			m.logger.Warning("ShutdownManager", "cleanup hook timed out", map[string]interface{}{
				"hook": h.name,
			})
		}
	}
}

func (m *Manager) Done() <-chan struct{} {
	return m.done
}
