// Package shutdown coordinates graceful termination of the server's
// components.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager runs registered shutdown functions, in reverse registration order,
// when a termination signal arrives.
type Manager struct {
	mu      sync.Mutex
	funcs   []func(context.Context) error
	timeout time.Duration
	log     *logrus.Entry
}

// New creates a shutdown manager with the given overall timeout.
func New(timeout time.Duration) *Manager {
	return &Manager{
		timeout: timeout,
		log:     logrus.WithField("component", "shutdown"),
	}
}

// Register adds a shutdown function. Functions run LIFO so dependencies stop
// after their dependents.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, fn)
}

// Wait blocks until SIGINT or SIGTERM, then runs all registered functions.
func (m *Manager) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	m.log.WithField("signal", sig.String()).Info("shutting down")
	m.Shutdown()
}

// Shutdown runs all registered functions under the manager's timeout.
func (m *Manager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	funcs := make([]func(context.Context) error, len(m.funcs))
	copy(funcs, m.funcs)
	m.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			m.log.WithError(err).Warn("shutdown step failed")
		}
	}
	m.log.Info("shutdown complete")
}
