package models

import "time"

// Node represents one scheduling target in the cluster
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Total     ResourceVector `json:"total"`
	Allocated ResourceVector `json:"allocated"`

	Labels map[string]string `json:"labels,omitempty"`

	// Healthy is driven by the health-check collaborator. Schedulable is the
	// cordon flag: a drained node keeps running its jobs but receives no new
	// placements.
	Healthy     bool `json:"healthy"`
	Schedulable bool `json:"schedulable"`

	RunningJobIDs map[string]bool `json:"running_job_ids,omitempty"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// Available returns the capacity not currently reserved.
func (n *Node) Available() ResourceVector {
	return n.Total.Sub(n.Allocated)
}

// MatchesSelector reports whether every key/value pair in selector is present
// in the node's labels. An empty selector matches any node.
func (n *Node) MatchesSelector(selector map[string]string) bool {
	for k, v := range selector {
		if n.Labels[k] != v {
			return false
		}
	}
	return true
}

// JobCount returns the number of jobs holding reservations on the node.
func (n *Node) JobCount() int {
	return len(n.RunningJobIDs)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Labels = copyLabels(n.Labels)
	if n.RunningJobIDs != nil {
		c.RunningJobIDs = make(map[string]bool, len(n.RunningJobIDs))
		for id := range n.RunningJobIDs {
			c.RunningJobIDs[id] = true
		}
	}
	return &c
}

// NodeRegistration is the payload for registering a node via the API
type NodeRegistration struct {
	Name   string            `json:"name"`
	Total  ResourceVector    `json:"total"`
	Labels map[string]string `json:"labels,omitempty"`
}
