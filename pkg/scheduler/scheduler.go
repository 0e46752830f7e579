// Package scheduler orchestrates the job lifecycle: admit, queue, place,
// run, release. It owns the pending queue and is the only writer of job
// status and node allocation.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SandrickPro/packsched/pkg/cluster"
	"github.com/SandrickPro/packsched/pkg/models"
	"github.com/SandrickPro/packsched/pkg/placement"
)

var (
	// ErrInvalidRequest rejects malformed submissions before they enter the
	// queue.
	ErrInvalidRequest = errors.New("invalid job request")
	ErrJobNotFound    = errors.New("job not found")
	ErrDuplicateJob   = errors.New("job already submitted")
)

// DecisionHook observes successful placements. Hooks run outside all
// scheduler and cluster locks, so they may do I/O.
type DecisionHook func(*models.SchedulingDecision)

// FinishHook observes jobs reaching a terminal state. Same locking contract
// as DecisionHook.
type FinishHook func(*models.Job)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics attaches a Prometheus metric set.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRetryPolicy enables requeueing of jobs whose node failed. Without a
// policy such jobs fail immediately.
func WithRetryPolicy(rp *models.RetryPolicy) Option {
	return func(s *Scheduler) { s.retry = rp }
}

// WithLogger overrides the default logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Scheduler) { s.log = log }
}

// OnDecision registers a placement hook.
func OnDecision(h DecisionHook) Option {
	return func(s *Scheduler) { s.onDecision = append(s.onDecision, h) }
}

// OnFinish registers a terminal-state hook.
func OnFinish(h FinishHook) Option {
	return func(s *Scheduler) { s.onFinish = append(s.onFinish, h) }
}

type jobRecord struct {
	job *models.Job
	seq uint64
}

// Scheduler coordinates placement between the pending queue, the placement
// engine and the cluster state. A single mutex guards the queue and the job
// table; capacity itself is guarded by the cluster's own lock, and the
// atomic Reserve check there is what makes concurrent dispatchers safe.
type Scheduler struct {
	mu      sync.Mutex
	cluster *cluster.State
	engine  placement.Engine
	queue   *pendingQueue
	jobs    map[string]*jobRecord
	nextSeq uint64

	retry      *models.RetryPolicy
	metrics    *Metrics
	onDecision []DecisionHook
	onFinish   []FinishHook
	log        *logrus.Entry
}

// New creates a scheduler over the given cluster state and placement engine.
func New(cs *cluster.State, engine placement.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		cluster: cs,
		engine:  engine,
		queue:   newPendingQueue(),
		jobs:    make(map[string]*jobRecord),
		log:     logrus.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates a job and enqueues it as PENDING. No capacity is touched.
func (s *Scheduler) Submit(job *models.Job) (string, error) {
	if job.Request.HasNegative() {
		return "", fmt.Errorf("%w: negative resource request %s", ErrInvalidRequest, job.Request)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	j := job.Clone()
	j.Status = models.JobStatusPending
	j.AssignedNodeID = ""
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}

	seq := s.nextSeq
	s.nextSeq++
	s.jobs[j.ID] = &jobRecord{job: j, seq: seq}
	s.queue.Push(queueItem{jobID: j.ID, priority: j.Priority, seq: seq})

	s.metrics.jobSubmitted()
	s.metrics.setQueueDepth(s.queue.Len())
	s.observeStatesLocked()

	s.log.WithFields(logrus.Fields{
		"job":      j.ID,
		"priority": j.Priority.String(),
		"request":  j.Request.String(),
	}).Debug("job submitted")
	return j.ID, nil
}

// DispatchOnce pops pending jobs in priority order until one can be placed.
// Jobs with no viable node stay queued and do not block jobs behind them; a
// job whose reservation is lost to a concurrent dispatcher keeps its place
// in line and the sweep moves on. Returns (nil, nil) when nothing could be
// placed this cycle, which is the expected resource-exhaustion outcome, not
// an error.
func (s *Scheduler) DispatchOnce() (*models.SchedulingDecision, error) {
	s.mu.Lock()

	var deferred []queueItem
	var decision *models.SchedulingDecision
	for {
		item, ok := s.queue.Pop()
		if !ok {
			break
		}
		rec, exists := s.jobs[item.jobID]
		if !exists || rec.job.Status != models.JobStatusPending {
			// Canceled or failed while queued; drop the stale entry.
			continue
		}

		dec := placement.Decide(s.engine, rec.job, s.cluster.ListCandidates(), time.Now())
		if dec == nil {
			s.metrics.noFit()
			deferred = append(deferred, item)
			continue
		}

		reserved, err := s.cluster.Reserve(dec.NodeID, rec.job.ID, rec.job.Request)
		if err != nil || !reserved {
			s.metrics.lostRace()
			deferred = append(deferred, item)
			continue
		}

		if err := rec.job.Transition(models.JobStatusScheduled, "placed on node "+dec.NodeID); err != nil {
			// Should be unreachable with the PENDING check above; give the
			// capacity back rather than leak it.
			_ = s.cluster.Release(dec.NodeID, rec.job.ID, rec.job.Request)
			deferred = append(deferred, item)
			continue
		}
		rec.job.AssignedNodeID = dec.NodeID
		scheduledAt := dec.DecidedAt
		rec.job.ScheduledAt = &scheduledAt
		decision = dec
		break
	}
	for _, item := range deferred {
		s.queue.Push(item)
	}
	s.metrics.setQueueDepth(s.queue.Len())
	if decision != nil {
		s.metrics.placed(decision)
	}
	s.observeStatesLocked()
	hooks := s.onDecision
	s.mu.Unlock()

	if decision == nil {
		return nil, nil
	}
	s.log.WithFields(logrus.Fields{
		"job":        decision.JobID,
		"node":       decision.NodeID,
		"score":      decision.Score,
		"queue_wait": decision.QueueWait.String(),
	}).Info("job placed")
	for _, h := range hooks {
		h(decision)
	}
	return decision, nil
}

// Start marks a scheduled job as running.
func (s *Scheduler) Start(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err := rec.job.Transition(models.JobStatusRunning, "execution started"); err != nil {
		return err
	}
	startedAt := time.Now()
	rec.job.StartedAt = &startedAt
	s.observeStatesLocked()
	return nil
}

// Complete transitions a running job to its terminal state and releases its
// reservation back to the node.
func (s *Scheduler) Complete(jobID string, success bool, errMsg string) error {
	s.mu.Lock()

	rec, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	target := models.JobStatusCompleted
	reason := "execution finished"
	if !success {
		target = models.JobStatusFailed
		reason = "execution failed"
	}
	if rec.job.Status != models.JobStatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: complete on %s job %s", models.ErrInvalidTransition, rec.job.Status, jobID)
	}
	if err := rec.job.Transition(target, reason); err != nil {
		s.mu.Unlock()
		return err
	}
	if !success {
		rec.job.Error = errMsg
	}
	completedAt := time.Now()
	rec.job.CompletedAt = &completedAt

	nodeID := rec.job.AssignedNodeID
	rec.job.AssignedNodeID = ""
	releaseErr := s.cluster.Release(nodeID, jobID, rec.job.Request)

	finished := rec.job.Clone()
	s.observeStatesLocked()
	hooks := s.onFinish
	s.mu.Unlock()

	for _, h := range hooks {
		h(finished)
	}
	if releaseErr != nil {
		return fmt.Errorf("job %s finished but release failed: %w", jobID, releaseErr)
	}
	return nil
}

// Cancel aborts a job that has not started running yet. A scheduled job's
// reservation is rolled back. The status check and the transition happen
// under the same lock as DispatchOnce, so a job can never be both canceled
// and placed.
func (s *Scheduler) Cancel(jobID string) error {
	s.mu.Lock()

	rec, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	var releaseErr error
	switch rec.job.Status {
	case models.JobStatusPending:
		// The queue entry is dropped lazily on the next sweep.
	case models.JobStatusScheduled:
		nodeID := rec.job.AssignedNodeID
		rec.job.AssignedNodeID = ""
		releaseErr = s.cluster.Release(nodeID, jobID, rec.job.Request)
	default:
		status := rec.job.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: cancel on %s job %s", models.ErrInvalidTransition, status, jobID)
	}
	if err := rec.job.Transition(models.JobStatusCanceled, "canceled by caller"); err != nil {
		s.mu.Unlock()
		return err
	}
	completedAt := time.Now()
	rec.job.CompletedAt = &completedAt

	finished := rec.job.Clone()
	s.metrics.setQueueDepth(s.queue.Len())
	s.observeStatesLocked()
	hooks := s.onFinish
	s.mu.Unlock()

	for _, h := range hooks {
		h(finished)
	}
	return releaseErr
}

// FailPending fails a job that never left the queue. Used by queue-time
// policies; the core itself never times jobs out.
func (s *Scheduler) FailPending(jobID, reason string) error {
	s.mu.Lock()

	rec, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if rec.job.Status != models.JobStatusPending {
		status := rec.job.Status
		s.mu.Unlock()
		return fmt.Errorf("%w: fail-pending on %s job %s", models.ErrInvalidTransition, status, jobID)
	}
	if err := rec.job.Transition(models.JobStatusFailed, reason); err != nil {
		s.mu.Unlock()
		return err
	}
	rec.job.Error = reason
	completedAt := time.Now()
	rec.job.CompletedAt = &completedAt

	finished := rec.job.Clone()
	s.observeStatesLocked()
	hooks := s.onFinish
	s.mu.Unlock()

	for _, h := range hooks {
		h(finished)
	}
	return nil
}

// MarkNodeHealth reports a node health transition from the health-check
// collaborator. When a node turns unhealthy, every job holding a reservation
// on it has the reservation released and is either requeued (while the retry
// policy allows) or failed.
func (s *Scheduler) MarkNodeHealth(nodeID string, healthy bool) error {
	affected, err := s.cluster.MarkHealth(nodeID, healthy)
	if err != nil {
		return err
	}
	if healthy || len(affected) == 0 {
		return nil
	}

	s.mu.Lock()
	var finished []*models.Job
	for _, jobID := range affected {
		rec, exists := s.jobs[jobID]
		if !exists || !models.IsActive(rec.job.Status) {
			continue
		}
		if relErr := s.cluster.Release(nodeID, jobID, rec.job.Request); relErr != nil {
			s.log.WithError(relErr).WithField("job", jobID).Warn("release after node failure")
		}
		rec.job.AssignedNodeID = ""
		rec.job.ScheduledAt = nil
		rec.job.StartedAt = nil

		if s.retry != nil && s.retry.Allow(rec.job.Attempts) {
			rec.job.Attempts++
			reason := fmt.Sprintf("node %s unhealthy, requeued (attempt %d)", nodeID, rec.job.Attempts)
			if err := rec.job.Transition(models.JobStatusPending, reason); err != nil {
				s.log.WithError(err).WithField("job", jobID).Error("requeue after node failure")
				continue
			}
			// Requeued with its original sequence number so it keeps its
			// FIFO position within the priority band.
			s.queue.Push(queueItem{jobID: jobID, priority: rec.job.Priority, seq: rec.seq})
		} else {
			reason := fmt.Sprintf("node %s unhealthy", nodeID)
			if err := rec.job.Transition(models.JobStatusFailed, reason); err != nil {
				s.log.WithError(err).WithField("job", jobID).Error("fail after node failure")
				continue
			}
			rec.job.Error = reason
			completedAt := time.Now()
			rec.job.CompletedAt = &completedAt
			finished = append(finished, rec.job.Clone())
		}
	}
	s.metrics.setQueueDepth(s.queue.Len())
	s.observeStatesLocked()
	hooks := s.onFinish
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"node": nodeID,
		"jobs": len(affected),
	}).Warn("node unhealthy, reservations recovered")
	for _, job := range finished {
		for _, h := range hooks {
			h(job)
		}
	}
	return nil
}

// GetJob returns a copy of one job.
func (s *Scheduler) GetJob(jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return rec.job.Clone(), nil
}

// ListJobs returns copies of all jobs, optionally filtered by status, in
// submission order.
func (s *Scheduler) ListJobs(status models.JobStatus) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*jobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if status != "" && rec.job.Status != status {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	jobs := make([]*models.Job, len(recs))
	for i, rec := range recs {
		jobs[i] = rec.job.Clone()
	}
	return jobs
}

// QueueDepth returns the number of entries in the pending queue, including
// stale entries for jobs canceled while queued.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) observeStatesLocked() {
	if s.metrics == nil {
		return
	}
	counts := make(map[models.JobStatus]int)
	for _, rec := range s.jobs {
		counts[rec.job.Status]++
	}
	s.metrics.observeStates(counts)
}
