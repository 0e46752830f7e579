// Package store persists scheduling decisions and terminal job records for
// observability. The scheduler core never touches it directly; serve wires
// it in through the scheduler's hooks, outside any scheduling lock.
package store

import (
	"errors"

	"github.com/SandrickPro/packsched/pkg/models"
)

var ErrJobNotFound = errors.New("job not found in archive")

// Archive is the persistence interface. Memory, SQLite and Postgres
// implementations are provided.
type Archive interface {
	// RecordDecision appends one placement decision.
	RecordDecision(d *models.SchedulingDecision) error
	// ListDecisions returns the most recent decisions, newest first.
	// limit <= 0 means no limit.
	ListDecisions(limit int) ([]*models.SchedulingDecision, error)

	// RecordJob stores the terminal snapshot of a job.
	RecordJob(j *models.Job) error
	// GetJob returns one archived job.
	GetJob(id string) (*models.Job, error)
	// ListJobs returns archived jobs, newest first, optionally filtered by
	// status. limit <= 0 means no limit.
	ListJobs(status models.JobStatus, limit int) ([]*models.Job, error)

	Close() error
}
