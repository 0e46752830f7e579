// Package placement holds the pure decision logic of the scheduler: given a
// job and a snapshot of candidate nodes, pick the best node or report that
// none is viable. Engines hold no state of their own so their behavior is
// deterministic and testable without a live cluster.
package placement

import (
	"time"

	"github.com/SandrickPro/packsched/pkg/models"
)

// Engine selects a node for a job in three stages: filter out nodes that
// cannot run the job at all, score the survivors, and pick the winner.
type Engine interface {
	SelectCandidateNodes(job *models.Job, nodes []*models.Node) []*models.Node
	Score(job *models.Job, nodes []*models.Node) map[string]float64
	Pick(scores map[string]float64, candidates []*models.Node) *models.Node
}

// Decide runs the full filter/score/pick pipeline and wraps the outcome in
// an audit record. Returns nil when no candidate survives the filter; the
// caller keeps the job queued.
func Decide(e Engine, job *models.Job, nodes []*models.Node, now time.Time) *models.SchedulingDecision {
	candidates := e.SelectCandidateNodes(job, nodes)
	if len(candidates) == 0 {
		return nil
	}
	scores := e.Score(job, candidates)
	best := e.Pick(scores, candidates)
	if best == nil {
		return nil
	}
	return &models.SchedulingDecision{
		JobID:     job.ID,
		NodeID:    best.ID,
		Score:     scores[best.ID],
		DecidedAt: now,
		QueueWait: now.Sub(job.CreatedAt),
	}
}
