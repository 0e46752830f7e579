package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SandrickPro/packsched/pkg/cluster"
	"github.com/SandrickPro/packsched/pkg/models"
	"github.com/SandrickPro/packsched/pkg/placement"
)

func newTestCluster(t *testing.T, nodes ...*models.Node) *cluster.State {
	t.Helper()
	cs := cluster.NewState()
	for _, n := range nodes {
		if _, err := cs.AddNode(n); err != nil {
			t.Fatalf("add node %s: %v", n.ID, err)
		}
	}
	return cs
}

func testNode(id string, cpu float64, memMB int64) *models.Node {
	return &models.Node{
		ID:          id,
		Name:        id,
		Total:       models.ResourceVector{CPUCores: cpu, MemoryMB: memMB},
		Healthy:     true,
		Schedulable: true,
	}
}

func testJob(name string, priority models.Priority, cpu float64, memMB int64) *models.Job {
	return &models.Job{
		Name:     name,
		Priority: priority,
		Request:  models.ResourceVector{CPUCores: cpu, MemoryMB: memMB},
	}
}

func mustSubmit(t *testing.T, s *Scheduler, job *models.Job) string {
	t.Helper()
	id, err := s.Submit(job)
	if err != nil {
		t.Fatalf("submit %s: %v", job.Name, err)
	}
	return id
}

func mustStatus(t *testing.T, s *Scheduler, jobID string, want models.JobStatus) *models.Job {
	t.Helper()
	job, err := s.GetJob(jobID)
	if err != nil {
		t.Fatalf("get job %s: %v", jobID, err)
	}
	if job.Status != want {
		t.Fatalf("job %s status = %s, expected %s", jobID, job.Status, want)
	}
	return job
}

func TestSubmitAndDispatch(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 8, 16384))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("render", models.PriorityMedium, 2, 2048))
	mustStatus(t, s, id, models.JobStatusPending)

	decision, err := s.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if decision == nil {
		t.Fatal("expected a placement decision")
	}
	if decision.JobID != id || decision.NodeID != "n1" {
		t.Errorf("decision = %+v, expected job %s on n1", decision, id)
	}

	job := mustStatus(t, s, id, models.JobStatusScheduled)
	if job.AssignedNodeID != "n1" {
		t.Errorf("assigned node = %q, expected n1", job.AssignedNodeID)
	}
	if job.ScheduledAt == nil {
		t.Error("ScheduledAt not set")
	}

	node, err := cs.GetNode("n1")
	if err != nil {
		t.Fatal(err)
	}
	if !node.RunningJobIDs[id] {
		t.Error("node does not record the job's reservation")
	}
	want := models.ResourceVector{CPUCores: 2, MemoryMB: 2048}
	if node.Allocated != want {
		t.Errorf("allocated = %v, expected %v", node.Allocated, want)
	}
}

func TestSubmitRejectsNegativeRequest(t *testing.T) {
	s := New(newTestCluster(t), placement.NewBestFit())

	_, err := s.Submit(&models.Job{
		Name:    "bad",
		Request: models.ResourceVector{CPUCores: -1},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestDispatchNoViableNodeKeepsJobPending(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 2, 2048))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("huge", models.PriorityHigh, 16, 65536))

	decision, err := s.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if decision != nil {
		t.Fatalf("expected no placement, got %+v", decision)
	}
	mustStatus(t, s, id, models.JobStatusPending)
	if s.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, expected 1", s.QueueDepth())
	}
}

// An unplaceable high-priority job must not block smaller jobs behind it.
func TestDispatchSkipsHeadOfLineBlocker(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 8192))
	s := New(cs, placement.NewBestFit())

	blocker := mustSubmit(t, s, testJob("blocker", models.PriorityCritical, 64, 65536))
	small := mustSubmit(t, s, testJob("small", models.PriorityLow, 1, 1024))

	decision, err := s.DispatchOnce()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if decision == nil || decision.JobID != small {
		t.Fatalf("expected the small job to place, got %+v", decision)
	}
	mustStatus(t, s, blocker, models.JobStatusPending)
	mustStatus(t, s, small, models.JobStatusScheduled)
}

func TestDispatchPriorityOrdering(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 8, 16384))
	s := New(cs, placement.NewBestFit())

	low := mustSubmit(t, s, testJob("low", models.PriorityLow, 1, 1024))
	critical := mustSubmit(t, s, testJob("critical", models.PriorityCritical, 1, 1024))

	first, err := s.DispatchOnce()
	if err != nil || first == nil {
		t.Fatalf("dispatch: %v, %+v", err, first)
	}
	if first.JobID != critical {
		t.Errorf("first placement = %s, expected the critical job", first.JobID)
	}

	second, err := s.DispatchOnce()
	if err != nil || second == nil {
		t.Fatalf("dispatch: %v, %+v", err, second)
	}
	if second.JobID != low {
		t.Errorf("second placement = %s, expected the low job", second.JobID)
	}
}

func TestDispatchFIFOWithinPriority(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 8, 16384))
	s := New(cs, placement.NewBestFit())

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, mustSubmit(t, s, testJob(fmt.Sprintf("job-%d", i), models.PriorityMedium, 1, 1024)))
	}

	for _, want := range ids {
		decision, err := s.DispatchOnce()
		if err != nil || decision == nil {
			t.Fatalf("dispatch: %v, %+v", err, decision)
		}
		if decision.JobID != want {
			t.Errorf("placed %s, expected %s", decision.JobID, want)
		}
	}
}

func TestLifecycleCompleteReleasesCapacity(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	// First job fills the node entirely.
	first := mustSubmit(t, s, testJob("first", models.PriorityMedium, 4, 4096))
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch first: %v, %+v", err, d)
	}

	// Second is stuck until capacity frees up.
	second := mustSubmit(t, s, testJob("second", models.PriorityMedium, 4, 4096))
	if d, err := s.DispatchOnce(); err != nil || d != nil {
		t.Fatalf("second should not place yet: %v, %+v", err, d)
	}

	if err := s.Start(first); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Complete(first, true, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job := mustStatus(t, s, first, models.JobStatusCompleted)
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Released capacity lets the waiting job place.
	decision, err := s.DispatchOnce()
	if err != nil || decision == nil {
		t.Fatalf("dispatch second: %v, %+v", err, decision)
	}
	if decision.JobID != second {
		t.Errorf("placed %s, expected %s", decision.JobID, second)
	}
}

func TestCompleteFailureRecordsError(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}
	if err := s.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Complete(id, false, "exit code 1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	job := mustStatus(t, s, id, models.JobStatusFailed)
	if job.Error != "exit code 1" {
		t.Errorf("error = %q, expected exit code 1", job.Error)
	}

	node, err := cs.GetNode("n1")
	if err != nil {
		t.Fatal(err)
	}
	if !node.Allocated.IsZero() {
		t.Errorf("capacity not released: %v", node.Allocated)
	}
}

func TestCompleteRequiresRunning(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))

	// Pending job cannot complete.
	if err := s.Complete(id, true, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("complete on pending: expected ErrInvalidTransition, got %v", err)
	}

	// Scheduled job cannot complete either; it must start first.
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}
	if err := s.Complete(id, true, ""); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("complete on scheduled: expected ErrInvalidTransition, got %v", err)
	}
}

func TestStartRequiresScheduled(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))
	if err := s.Start(id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("start on pending: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.Start("ghost"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("start on unknown job: expected ErrJobNotFound, got %v", err)
	}
}

func TestCancelPendingJob(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))
	if err := s.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mustStatus(t, s, id, models.JobStatusCanceled)

	// The stale queue entry is dropped by the next sweep, not dispatched.
	if d, err := s.DispatchOnce(); err != nil || d != nil {
		t.Fatalf("canceled job dispatched: %v, %+v", err, d)
	}
}

func TestCancelScheduledJobRollsBackReservation(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 2, 2048))
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}

	if err := s.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mustStatus(t, s, id, models.JobStatusCanceled)

	node, err := cs.GetNode("n1")
	if err != nil {
		t.Fatal(err)
	}
	if !node.Allocated.IsZero() {
		t.Errorf("reservation not rolled back: %v", node.Allocated)
	}
}

func TestCancelRunningJobRefused(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}
	if err := s.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.Cancel(id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("cancel on running: expected ErrInvalidTransition, got %v", err)
	}
}

func TestNodeFailureRequeuesWithRetryPolicy(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096), testNode("n2", 4, 4096))
	s := New(cs, placement.NewBestFit(), WithRetryPolicy(models.DefaultRetryPolicy()))

	id := mustSubmit(t, s, &models.Job{
		Name:         "pinned-then-freed",
		Priority:     models.PriorityMedium,
		Request:      models.ResourceVector{CPUCores: 2, MemoryMB: 2048},
		NodeSelector: nil,
	})
	d, err := s.DispatchOnce()
	if err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}
	failedNode := d.NodeID
	if err := s.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.MarkNodeHealth(failedNode, false); err != nil {
		t.Fatalf("mark unhealthy: %v", err)
	}
	job := mustStatus(t, s, id, models.JobStatusPending)
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, expected 1", job.Attempts)
	}
	if job.AssignedNodeID != "" {
		t.Errorf("assigned node not cleared: %q", job.AssignedNodeID)
	}

	// The failed node's capacity was released.
	node, err := cs.GetNode(failedNode)
	if err != nil {
		t.Fatal(err)
	}
	if !node.Allocated.IsZero() {
		t.Errorf("failed node still holds allocation: %v", node.Allocated)
	}

	// Redispatch lands on the surviving node.
	d, err = s.DispatchOnce()
	if err != nil || d == nil {
		t.Fatalf("redispatch: %v, %+v", err, d)
	}
	if d.NodeID == failedNode {
		t.Errorf("job placed back on the unhealthy node %s", failedNode)
	}
	mustStatus(t, s, id, models.JobStatusScheduled)
}

func TestNodeFailureExhaustedRetriesFailsJob(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit(), WithRetryPolicy(&models.RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Second,
		Multiplier:     1,
	}))

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))

	for attempt := 0; attempt < 2; attempt++ {
		if d, err := s.DispatchOnce(); err != nil || d == nil {
			t.Fatalf("dispatch attempt %d: %v, %+v", attempt, err, d)
		}
		if err := s.MarkNodeHealth("n1", false); err != nil {
			t.Fatalf("mark unhealthy: %v", err)
		}
		if attempt == 0 {
			mustStatus(t, s, id, models.JobStatusPending)
			if _, err := cs.MarkHealth("n1", true); err != nil {
				t.Fatalf("recover node: %v", err)
			}
		}
	}

	job := mustStatus(t, s, id, models.JobStatusFailed)
	if job.Error == "" {
		t.Error("failed job has no error message")
	}
}

func TestNodeFailureWithoutRetryPolicyFailsImmediately(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}
	if err := s.MarkNodeHealth("n1", false); err != nil {
		t.Fatalf("mark unhealthy: %v", err)
	}
	mustStatus(t, s, id, models.JobStatusFailed)
}

func TestFailPending(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 64, 65536))
	if err := s.FailPending(id, "gave up"); err != nil {
		t.Fatalf("fail pending: %v", err)
	}
	job := mustStatus(t, s, id, models.JobStatusFailed)
	if job.Error != "gave up" {
		t.Errorf("error = %q", job.Error)
	}

	// Only pending jobs qualify.
	other := mustSubmit(t, s, testJob("other", models.PriorityMedium, 1, 1024))
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}
	if err := s.FailPending(other, "too late"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestHooksFire(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 4, 4096))

	var mu sync.Mutex
	var decisions []*models.SchedulingDecision
	var finished []*models.Job

	s := New(cs, placement.NewBestFit(),
		OnDecision(func(d *models.SchedulingDecision) {
			mu.Lock()
			decisions = append(decisions, d)
			mu.Unlock()
		}),
		OnFinish(func(j *models.Job) {
			mu.Lock()
			finished = append(finished, j)
			mu.Unlock()
		}),
	)

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))
	if d, err := s.DispatchOnce(); err != nil || d == nil {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}
	if err := s.Start(id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Complete(id, true, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(decisions) != 1 || decisions[0].JobID != id {
		t.Errorf("decision hook calls = %+v", decisions)
	}
	if len(finished) != 1 || finished[0].Status != models.JobStatusCompleted {
		t.Errorf("finish hook calls = %+v", finished)
	}
}

func TestListJobsFilterAndOrder(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 8, 16384))
	s := New(cs, placement.NewBestFit())

	a := mustSubmit(t, s, testJob("a", models.PriorityLow, 1, 1024))
	b := mustSubmit(t, s, testJob("b", models.PriorityHigh, 1, 1024))
	if d, err := s.DispatchOnce(); err != nil || d == nil || d.JobID != b {
		t.Fatalf("dispatch: %v, %+v", err, d)
	}

	all := s.ListJobs("")
	if len(all) != 2 || all[0].ID != a || all[1].ID != b {
		t.Errorf("ListJobs order wrong: %+v", all)
	}

	pending := s.ListJobs(models.JobStatusPending)
	if len(pending) != 1 || pending[0].ID != a {
		t.Errorf("pending filter wrong: %+v", pending)
	}
}

func TestGetJobReturnsCopy(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 8, 16384))
	s := New(cs, placement.NewBestFit())

	id := mustSubmit(t, s, testJob("job", models.PriorityMedium, 1, 1024))
	job, err := s.GetJob(id)
	if err != nil {
		t.Fatal(err)
	}
	job.Status = models.JobStatusFailed

	mustStatus(t, s, id, models.JobStatusPending)
}

// Fifty goroutines submit one-core jobs against a ten-core node while
// dispatch runs concurrently. Exactly ten jobs may hold reservations.
func TestConcurrentSubmitAndDispatch(t *testing.T) {
	cs := newTestCluster(t, testNode("n1", 10, 102400))
	s := New(cs, placement.NewBestFit())

	const total = 50
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Submit(testJob(fmt.Sprintf("job-%d", i), models.PriorityMedium, 1, 1024)); err != nil {
				t.Errorf("submit: %v", err)
			}
			_, _ = s.DispatchOnce()
		}(i)
	}
	wg.Wait()

	// Drain whatever is still placeable.
	for {
		d, err := s.DispatchOnce()
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if d == nil {
			break
		}
	}

	scheduled := s.ListJobs(models.JobStatusScheduled)
	pending := s.ListJobs(models.JobStatusPending)
	if len(scheduled) != 10 {
		t.Errorf("scheduled = %d, expected 10", len(scheduled))
	}
	if len(pending) != total-10 {
		t.Errorf("pending = %d, expected %d", len(pending), total-10)
	}

	node, err := cs.GetNode("n1")
	if err != nil {
		t.Fatal(err)
	}
	want := models.ResourceVector{CPUCores: 10, MemoryMB: 10240}
	if node.Allocated != want {
		t.Errorf("allocated = %v, expected %v (no double-booking)", node.Allocated, want)
	}
}
