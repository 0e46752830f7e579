// Package health is the heartbeat-driven health-check collaborator. It
// watches node heartbeats and reports health transitions to the scheduler,
// which handles the fallout for running jobs.
package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SandrickPro/packsched/pkg/cluster"
)

// HealthSink receives node health transitions. The scheduler implements it.
type HealthSink interface {
	MarkNodeHealth(nodeID string, healthy bool) error
}

// MonitorConfig tunes the heartbeat monitor.
type MonitorConfig struct {
	// CheckInterval is how often heartbeats are evaluated.
	CheckInterval time.Duration
	// HeartbeatTimeout is how long a node may stay silent before it is
	// declared unhealthy.
	HeartbeatTimeout time.Duration
}

// DefaultMonitorConfig returns the defaults used by serve.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:    5 * time.Second,
		HeartbeatTimeout: 2 * time.Minute,
	}
}

// Monitor periodically scans node heartbeats, marking silent nodes unhealthy
// and recovered nodes healthy again.
type Monitor struct {
	cluster *cluster.State
	sink    HealthSink
	config  MonitorConfig
	log     *logrus.Entry

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a heartbeat monitor.
func NewMonitor(cs *cluster.State, sink HealthSink, config MonitorConfig) *Monitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultMonitorConfig().CheckInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = DefaultMonitorConfig().HeartbeatTimeout
	}
	return &Monitor{
		cluster: cs,
		sink:    sink,
		config:  config,
		log:     logrus.WithField("component", "health"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the monitor loop.
func (m *Monitor) Start() {
	m.log.WithFields(logrus.Fields{
		"interval": m.config.CheckInterval.String(),
		"timeout":  m.config.HeartbeatTimeout.String(),
	}).Info("health monitor started")
	go m.run()
}

// Stop terminates the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
	m.log.Info("health monitor stopped")
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-m.stopCh:
			return
		}
	}
}

// Check evaluates every node's heartbeat once. Exported so tests and callers
// with their own loops can drive it directly.
func (m *Monitor) Check() {
	cutoff := time.Now().Add(-m.config.HeartbeatTimeout)
	for _, node := range m.cluster.ListNodes() {
		silent := node.LastHeartbeat.Before(cutoff)
		switch {
		case node.Healthy && silent:
			m.log.WithFields(logrus.Fields{
				"node":           node.ID,
				"last_heartbeat": node.LastHeartbeat,
			}).Warn("node heartbeat timed out")
			if err := m.sink.MarkNodeHealth(node.ID, false); err != nil {
				m.log.WithError(err).WithField("node", node.ID).Error("mark unhealthy")
			}
		case !node.Healthy && !silent:
			m.log.WithField("node", node.ID).Info("node heartbeat recovered")
			if err := m.sink.MarkNodeHealth(node.ID, true); err != nil {
				m.log.WithError(err).WithField("node", node.ID).Error("mark healthy")
			}
		}
	}
}
