package models

import "time"

// SchedulingDecision is the audit record produced for every successful
// placement. It is immutable once created.
type SchedulingDecision struct {
	JobID     string        `json:"job_id"`
	NodeID    string        `json:"node_id"`
	Score     float64       `json:"score"`
	DecidedAt time.Time     `json:"decided_at"`
	QueueWait time.Duration `json:"queue_wait"`
}
