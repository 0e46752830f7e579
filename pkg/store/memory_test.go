package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/SandrickPro/packsched/pkg/models"
)

func TestMemoryArchiveDecisions(t *testing.T) {
	a := NewMemoryArchive()

	for i := 0; i < 5; i++ {
		err := a.RecordDecision(&models.SchedulingDecision{
			JobID:     fmt.Sprintf("job-%d", i),
			NodeID:    "n1",
			Score:     float64(i),
			DecidedAt: time.Now(),
			QueueWait: time.Duration(i) * time.Second,
		})
		if err != nil {
			t.Fatalf("record decision: %v", err)
		}
	}

	decisions, err := a.ListDecisions(3)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(decisions) != 3 {
		t.Fatalf("got %d decisions, expected 3", len(decisions))
	}
	// Newest first.
	if decisions[0].JobID != "job-4" || decisions[2].JobID != "job-2" {
		t.Errorf("unexpected order: %s .. %s", decisions[0].JobID, decisions[2].JobID)
	}

	all, err := a.ListDecisions(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("got %d decisions with no limit, expected 5", len(all))
	}
}

func TestMemoryArchiveJobs(t *testing.T) {
	a := NewMemoryArchive()

	job := &models.Job{
		ID:       "job-1",
		Name:     "render",
		Status:   models.JobStatusCompleted,
		Priority: models.PriorityHigh,
		Request:  models.ResourceVector{CPUCores: 2, MemoryMB: 2048},
	}
	if err := a.RecordJob(job); err != nil {
		t.Fatalf("record job: %v", err)
	}

	got, err := a.GetJob("job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Name != "render" || got.Status != models.JobStatusCompleted {
		t.Errorf("unexpected job: %+v", got)
	}

	// Stored copy is isolated from the caller's struct.
	job.Name = "mutated"
	got, err = a.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "render" {
		t.Error("archive shares memory with caller")
	}

	_, err = a.GetJob("ghost")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryArchiveRecordJobUpserts(t *testing.T) {
	a := NewMemoryArchive()

	job := &models.Job{ID: "job-1", Status: models.JobStatusFailed, Attempts: 1}
	if err := a.RecordJob(job); err != nil {
		t.Fatal(err)
	}
	job.Status = models.JobStatusCompleted
	job.Attempts = 2
	if err := a.RecordJob(job); err != nil {
		t.Fatal(err)
	}

	got, err := a.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobStatusCompleted || got.Attempts != 2 {
		t.Errorf("upsert did not apply: %+v", got)
	}

	jobs, err := a.ListJobs("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Errorf("duplicate entries after upsert: %d", len(jobs))
	}
}

func TestMemoryArchiveListJobsFilter(t *testing.T) {
	a := NewMemoryArchive()

	for i, status := range []models.JobStatus{
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCompleted,
	} {
		if err := a.RecordJob(&models.Job{ID: fmt.Sprintf("job-%d", i), Status: status}); err != nil {
			t.Fatal(err)
		}
	}

	completed, err := a.ListJobs(models.JobStatusCompleted, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 2 {
		t.Fatalf("got %d completed, expected 2", len(completed))
	}
	// Newest first.
	if completed[0].ID != "job-2" || completed[1].ID != "job-0" {
		t.Errorf("unexpected order: %s, %s", completed[0].ID, completed[1].ID)
	}

	limited, err := a.ListJobs("", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d", len(limited))
	}
}
