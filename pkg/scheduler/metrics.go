package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SandrickPro/packsched/pkg/models"
)

// Metrics exposes scheduler counters to Prometheus.
type Metrics struct {
	submitted        prometheus.Counter
	dispatchAttempts *prometheus.CounterVec
	jobsByState      *prometheus.GaugeVec
	queueDepth       prometheus.Gauge
	placementScore   prometheus.Histogram
	queueWait        prometheus.Histogram
}

// NewMetrics creates the scheduler's metric set and registers it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packsched_jobs_submitted_total",
			Help: "Jobs accepted by Submit.",
		}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "packsched_dispatch_attempts_total",
			Help: "Placement attempts by outcome.",
		}, []string{"result"}),
		jobsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "packsched_jobs",
			Help: "Jobs currently in each state.",
		}, []string{"state"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "packsched_queue_depth",
			Help: "Jobs waiting for placement.",
		}),
		placementScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "packsched_placement_score",
			Help:    "Score of the winning node per placement.",
			Buckets: prometheus.LinearBuckets(0, 10, 10),
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "packsched_queue_wait_seconds",
			Help:    "Time jobs spent queued before placement.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.dispatchAttempts, m.jobsByState,
			m.queueDepth, m.placementScore, m.queueWait)
	}
	return m
}

func (m *Metrics) jobSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

func (m *Metrics) placed(d *models.SchedulingDecision) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues("placed").Inc()
	m.placementScore.Observe(d.Score)
	m.queueWait.Observe(d.QueueWait.Seconds())
}

func (m *Metrics) noFit() {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues("no_fit").Inc()
}

func (m *Metrics) lostRace() {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues("lost_race").Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) observeStates(counts map[models.JobStatus]int) {
	if m == nil {
		return
	}
	for _, s := range []models.JobStatus{
		models.JobStatusPending, models.JobStatusScheduled, models.JobStatusRunning,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCanceled,
	} {
		m.jobsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
