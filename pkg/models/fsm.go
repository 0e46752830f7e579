package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a caller requests a job state change
// that is not legal from the job's current status.
var ErrInvalidTransition = errors.New("invalid job state transition")

// validTransitions maps from-state to the set of allowed to-states.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusScheduled: true, // placement succeeded, capacity reserved
		JobStatusCanceled:  true, // user canceled before placement
		JobStatusFailed:    true, // queue-time policy gave up on the job
	},
	JobStatusScheduled: {
		JobStatusRunning:  true, // execution started
		JobStatusPending:  true, // node failed before start, requeued
		JobStatusCanceled: true, // user canceled, reservation rolled back
		JobStatusFailed:   true, // node failed before start, retries exhausted
	},
	JobStatusRunning: {
		JobStatusCompleted: true, // execution finished ok
		JobStatusFailed:    true, // execution failed, or node died
		JobStatusPending:   true, // node died mid-run, requeued
	},
	// Terminal states
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCanceled:  {},
}

// ValidateTransition checks whether moving a job from one status to another
// is legal.
func ValidateTransition(from, to JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(s JobStatus) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// IsActive reports whether a job in this status holds a node reservation.
func IsActive(s JobStatus) bool {
	return s == JobStatusScheduled || s == JobStatusRunning
}

// Transition applies a validated status change to the job and records it in
// the audit trail.
func (j *Job) Transition(to JobStatus, reason string) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return err
	}
	j.StateTransitions = append(j.StateTransitions, StateTransition{
		From:      j.Status,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	j.Status = to
	return nil
}

// RetryPolicy bounds how often a job may be rescheduled after its node fails.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2.0,
	}
}

// Allow reports whether a job with the given attempt count may be retried.
func (rp *RetryPolicy) Allow(attempts int) bool {
	return attempts < rp.MaxAttempts
}

// Backoff returns the delay before the given retry attempt.
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(rp.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= rp.Multiplier
	}
	d := time.Duration(backoff)
	if d > rp.MaxBackoff {
		return rp.MaxBackoff
	}
	return d
}
