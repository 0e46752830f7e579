package store

import (
	"fmt"
	"sync"

	"github.com/SandrickPro/packsched/pkg/models"
)

// MemoryArchive is the in-memory Archive used by tests and the default serve
// mode. Nothing survives process exit.
type MemoryArchive struct {
	mu        sync.RWMutex
	decisions []*models.SchedulingDecision
	jobs      map[string]*models.Job
	order     []string
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{jobs: make(map[string]*models.Job)}
}

func (m *MemoryArchive) RecordDecision(d *models.SchedulingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *d
	m.decisions = append(m.decisions, &copied)
	return nil
}

func (m *MemoryArchive) ListDecisions(limit int) ([]*models.SchedulingDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.decisions)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.SchedulingDecision, 0, n)
	for i := len(m.decisions) - 1; i >= 0 && len(out) < n; i-- {
		copied := *m.decisions[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *MemoryArchive) RecordJob(j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.jobs[j.ID]; !seen {
		m.order = append(m.order, j.ID)
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

func (m *MemoryArchive) GetJob(id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (m *MemoryArchive) ListJobs(status models.JobStatus, limit int) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- { // newest first
		job := m.jobs[m.order[i]]
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryArchive) Close() error { return nil }
