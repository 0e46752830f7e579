package placement

import "github.com/SandrickPro/packsched/pkg/models"

// Score weights. Slack terms reward nodes with headroom so small jobs do not
// saturate one node while others idle; the spread term penalizes nodes that
// already host many jobs; preference matches add a fixed bonus per label.
const (
	slackWeightCPU    = 30.0
	slackWeightMemory = 30.0
	spreadWeight      = 20.0
	preferenceBonus   = 10.0
)

// BestFit is the default placement engine.
type BestFit struct{}

// NewBestFit returns the default engine.
func NewBestFit() *BestFit {
	return &BestFit{}
}

// SelectCandidateNodes keeps only nodes whose free capacity fits the job's
// request and whose labels satisfy the job's selector. Nodes failing either
// test are simply not viable, not an error.
func (b *BestFit) SelectCandidateNodes(job *models.Job, nodes []*models.Node) []*models.Node {
	var candidates []*models.Node
	for _, node := range nodes {
		if !node.Available().Fits(job.Request) {
			continue
		}
		if !node.MatchesSelector(job.NodeSelector) {
			continue
		}
		candidates = append(candidates, node)
	}
	return candidates
}

// Score computes a goodness value per candidate node; higher is better.
func (b *BestFit) Score(job *models.Job, nodes []*models.Node) map[string]float64 {
	scores := make(map[string]float64, len(nodes))
	for _, node := range nodes {
		available := node.Available()

		score := slackScore(job.Request.CPUCores, available.CPUCores, slackWeightCPU)
		score += slackScore(float64(job.Request.MemoryMB), float64(available.MemoryMB), slackWeightMemory)

		spread := spreadWeight - float64(node.JobCount())
		if spread > 0 {
			score += spread
		}

		for k, v := range job.Preferences {
			if node.Labels[k] == v {
				score += preferenceBonus
			}
		}

		scores[node.ID] = score
	}
	return scores
}

// Pick returns the highest-scoring candidate, breaking ties by lowest node ID
// so repeated runs over the same snapshot choose the same node.
func (b *BestFit) Pick(scores map[string]float64, candidates []*models.Node) *models.Node {
	var best *models.Node
	for _, node := range candidates {
		if best == nil {
			best = node
			continue
		}
		s, bs := scores[node.ID], scores[best.ID]
		if s > bs || (s == bs && node.ID < best.ID) {
			best = node
		}
	}
	return best
}

// slackScore rewards leaving headroom: a request consuming little of the
// available resource scores close to the full weight, a request consuming
// all of it scores zero.
func slackScore(request, available, weight float64) float64 {
	if available <= 0 {
		return 0
	}
	return weight * (1 - request/available)
}
