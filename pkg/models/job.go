package models

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"   // admitted, waiting for placement
	JobStatusScheduled JobStatus = "scheduled" // capacity reserved on a node
	JobStatusRunning   JobStatus = "running"   // execution started
	JobStatusCompleted JobStatus = "completed" // finished successfully
	JobStatusFailed    JobStatus = "failed"    // finished unsuccessfully
	JobStatusCanceled  JobStatus = "canceled"  // canceled before execution
)

// Priority determines scheduling order. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// MarshalJSON encodes the priority as its string name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON accepts the string names produced by MarshalJSON.
func (p *Priority) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePriority(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority converts a priority name to its enum value.
// The empty string defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

// Job is a unit of work to be placed on a node
type Job struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Request  ResourceVector `json:"request"`
	Priority Priority       `json:"priority"`

	// NodeSelector entries are hard constraints: every key/value pair must
	// match a candidate node's labels. Preferences are soft hints that only
	// influence scoring.
	NodeSelector map[string]string `json:"node_selector,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty"`

	Status         JobStatus `json:"status"`
	AssignedNodeID string    `json:"assigned_node_id,omitempty"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.NodeSelector = copyLabels(j.NodeSelector)
	c.Preferences = copyLabels(j.Preferences)
	c.ScheduledAt = copyTime(j.ScheduledAt)
	c.StartedAt = copyTime(j.StartedAt)
	c.CompletedAt = copyTime(j.CompletedAt)
	if j.StateTransitions != nil {
		c.StateTransitions = make([]StateTransition, len(j.StateTransitions))
		copy(c.StateTransitions, j.StateTransitions)
	}
	return &c
}

// JobRequest is the submission payload accepted by the API
type JobRequest struct {
	Name         string            `json:"name"`
	Request      ResourceVector    `json:"request"`
	Priority     string            `json:"priority,omitempty"`
	NodeSelector map[string]string `json:"node_selector,omitempty"`
	Preferences  map[string]string `json:"preferences,omitempty"`
}

// StateTransition records one job state change for auditing
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
