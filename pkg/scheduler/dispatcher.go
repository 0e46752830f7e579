package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SandrickPro/packsched/pkg/models"
)

// DispatcherConfig tunes the dispatch driver.
type DispatcherConfig struct {
	// Interval is the base cadence between dispatch sweeps.
	Interval time.Duration
	// MaxBackoff caps the exponential wait applied after sweeps that place
	// nothing, so an idle queue does not spin.
	MaxBackoff time.Duration
	// MaxQueueTime, when positive, fails jobs that have been pending longer
	// than this. Zero disables the policy.
	MaxQueueTime time.Duration
}

// DefaultDispatcherConfig returns the defaults used by serve.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval:   2 * time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Dispatcher is the ticker collaborator that drives DispatchOnce. The core
// scheduler owns no event loop of its own so it can be embedded in other
// concurrency models; this driver is the default one.
type Dispatcher struct {
	sched  *Scheduler
	config DispatcherConfig
	log    *logrus.Entry

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher over the scheduler.
func NewDispatcher(s *Scheduler, config DispatcherConfig) *Dispatcher {
	if config.Interval <= 0 {
		config.Interval = DefaultDispatcherConfig().Interval
	}
	if config.MaxBackoff < config.Interval {
		config.MaxBackoff = config.Interval
	}
	return &Dispatcher{
		sched:  s,
		config: config,
		log:    logrus.WithField("component", "dispatcher"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	d.log.WithField("interval", d.config.Interval.String()).Info("dispatcher started")
	go d.run()
}

// Stop terminates the loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
	d.log.Info("dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	wait := d.config.Interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			placed := d.sweep()
			d.expirePending()
			if placed > 0 {
				wait = d.config.Interval
			} else if wait < d.config.MaxBackoff {
				wait *= 2
				if wait > d.config.MaxBackoff {
					wait = d.config.MaxBackoff
				}
			}
			timer.Reset(wait)
		case <-d.stopCh:
			return
		}
	}
}

// sweep dispatches until a cycle places nothing, returning the number of
// placements made.
func (d *Dispatcher) sweep() int {
	placed := 0
	for {
		decision, err := d.sched.DispatchOnce()
		if err != nil {
			d.log.WithError(err).Error("dispatch cycle")
			return placed
		}
		if decision == nil {
			return placed
		}
		placed++
	}
}

// expirePending applies the max-queue-time policy.
func (d *Dispatcher) expirePending() {
	if d.config.MaxQueueTime <= 0 {
		return
	}
	cutoff := time.Now().Add(-d.config.MaxQueueTime)
	for _, job := range d.sched.ListJobs(models.JobStatusPending) {
		if job.CreatedAt.After(cutoff) {
			continue
		}
		reason := "no viable node within " + d.config.MaxQueueTime.String()
		if err := d.sched.FailPending(job.ID, reason); err != nil {
			// Lost a race with placement or cancel; fine either way.
			continue
		}
		d.log.WithField("job", job.ID).Warn("job expired in queue")
	}
}
