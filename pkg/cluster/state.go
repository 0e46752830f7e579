package cluster

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SandrickPro/packsched/pkg/models"
)

var (
	ErrDuplicateNode = errors.New("node already registered")
	ErrNodeNotFound  = errors.New("node not found")
	// ErrOverRelease indicates a release for more capacity than was reserved.
	// Allocation is clamped at zero so accounting stays sane, but the error
	// is surfaced because it means the caller double-released.
	ErrOverRelease = errors.New("release exceeds allocated capacity")
)

// State is the authoritative view of node inventory and capacity accounting.
// Reserve and Release are the only operations that mutate allocation, and
// both run under the same lock so no two reservations can observe the same
// availability snapshot and double-book a node.
type State struct {
	mu    sync.RWMutex
	nodes map[string]*models.Node
}

// NewState creates an empty cluster state.
func NewState() *State {
	return &State{nodes: make(map[string]*models.Node)}
}

// AddNode registers a node and returns its ID. A node arriving without an ID
// is assigned one. The node starts healthy and schedulable unless the caller
// says otherwise via the struct fields.
func (s *State) AddNode(node *models.Node) (string, error) {
	if node.Total.HasNegative() {
		return "", fmt.Errorf("node %q has negative capacity: %s", node.Name, node.Total)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if _, exists := s.nodes[node.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}

	n := node.Clone()
	if n.RunningJobIDs == nil {
		n.RunningJobIDs = make(map[string]bool)
	}
	if n.RegisteredAt.IsZero() {
		n.RegisteredAt = time.Now()
	}
	if n.LastHeartbeat.IsZero() {
		n.LastHeartbeat = n.RegisteredAt
	}
	s.nodes[n.ID] = n
	return n.ID, nil
}

// RemoveNode cordons a node so it is never offered as a placement candidate
// again. Jobs already running on it are untouched here; the scheduler decides
// their fate separately.
func (s *State) RemoveNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	node.Schedulable = false
	return nil
}

// SetSchedulable cordons or uncordons a node.
func (s *State) SetSchedulable(nodeID string, schedulable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	node.Schedulable = schedulable
	return nil
}

// ListCandidates returns deep copies of all nodes eligible for placement,
// sorted by ID for deterministic iteration. The snapshot is taken under the
// same lock as Reserve so callers never score against torn state.
func (s *State) ListCandidates() []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]*models.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		if node.Healthy && node.Schedulable {
			candidates = append(candidates, node.Clone())
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates
}

// ListNodes returns deep copies of every registered node, sorted by ID.
func (s *State) ListNodes() []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]*models.Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, node.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// GetNode returns a deep copy of one node.
func (s *State) GetNode(nodeID string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	return node.Clone(), nil
}

// Reserve atomically checks that the node can accommodate the request and, if
// so, adds it to the node's allocation and records the holding job. Returns
// false without mutating anything when the capacity is no longer available,
// which a dispatcher treats as a lost race, not an error.
func (s *State) Reserve(nodeID, jobID string, request models.ResourceVector) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if !node.Healthy || !node.Schedulable {
		return false, nil
	}
	if !node.Available().Fits(request) {
		return false, nil
	}
	node.Allocated = node.Allocated.Add(request)
	node.RunningJobIDs[jobID] = true
	return true, nil
}

// Release returns a job's reservation to the node. Releasing more than was
// reserved clamps allocation at zero and reports ErrOverRelease; swallowing
// it would hide double-release bugs that corrupt capacity accounting.
func (s *State) Release(nodeID, jobID string, request models.ResourceVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	delete(node.RunningJobIDs, jobID)

	remaining := node.Allocated.Sub(request)
	if remaining.HasNegative() {
		node.Allocated = node.Allocated.SubClamped(request)
		return fmt.Errorf("%w: node %s, job %s, released %s", ErrOverRelease, nodeID, jobID, request)
	}
	node.Allocated = remaining
	return nil
}

// MarkHealth sets a node's health flag. On a transition to unhealthy it
// returns the IDs of jobs holding reservations on the node so the scheduler
// can fail or requeue them.
func (s *State) MarkHealth(nodeID string, healthy bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	wasHealthy := node.Healthy
	node.Healthy = healthy
	if healthy || !wasHealthy {
		return nil, nil
	}

	affected := make([]string, 0, len(node.RunningJobIDs))
	for id := range node.RunningJobIDs {
		affected = append(affected, id)
	}
	sort.Strings(affected)
	return affected, nil
}

// Heartbeat records that a node reported in.
func (s *State) Heartbeat(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	node.LastHeartbeat = time.Now()
	return nil
}
