// Package cluster implements the coordinator-side bookkeeping: the
// PeerRegistry of remote workers, the ordered SuccessionList, the
// HealthMonitor that declares workers dead, and the LoadBalancer that
// rebalances shards across them.
package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/kettlecord/shardctl/structs/protocol"
)

// healthyAfter is the staleness window after which a PeerNode is considered
// dead (now minus last_heartbeat must stay under 15000 ms).
const healthyAfter = 15 * time.Second

// PeerNode is the coordinator's authoritative record of a single worker.
// Its own mutex guards in-place field mutation; PeerRegistry's mutex guards
// the map of nodes itself.
type PeerNode struct {
	mu sync.Mutex

	ProcessID      string
	URL            string
	AssignedShards []int
	MaxShards      int
	LastHeartbeat  int64 // Unix ms
	Metrics        protocol.WorkerMetrics
}

func (n *PeerNode) snapshot(now int64) protocol.PeerSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	shards := make([]int, len(n.AssignedShards))
	copy(shards, n.AssignedShards)

	return protocol.PeerSnapshot{
		ProcessID:      n.ProcessID,
		URL:            n.URL,
		AssignedShards: shards,
		MaxShards:      n.MaxShards,
		LastHeartbeat:  n.LastHeartbeat,
		Healthy:        now-n.LastHeartbeat < healthyAfter.Milliseconds(),
		Metrics:        n.Metrics,
	}
}

// PeerRegistry is the coordinator's process-wide table of remote workers.
// Exclusively owned by one Coordinator at a time; a recovering original
// coordinator loads a fresh registry from handoff data rather than sharing
// this one.
type PeerRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*PeerNode

	nowFunc func() time.Time
}

// NewPeerRegistry constructs an empty PeerRegistry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{
		nodes:   make(map[string]*PeerNode),
		nowFunc: time.Now,
	}
}

// Upsert inserts or replaces the PeerNode for processID, used by
// registration.
func (r *PeerRegistry) Upsert(processID, url string, maxShards int) *PeerNode {
	r.mu.Lock()
	defer r.mu.Unlock()

	node := &PeerNode{
		ProcessID:     processID,
		URL:           url,
		MaxShards:     maxShards,
		LastHeartbeat: r.nowFunc().UnixMilli(),
	}
	r.nodes[processID] = node

	return node
}

// Get returns the node for processID, or nil if absent.
func (r *PeerRegistry) Get(processID string) *PeerNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.nodes[processID]
}

// Remove deletes processID from the registry, used on worker loss or
// graceful deregistration.
func (r *PeerRegistry) Remove(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.nodes, processID)
}

// Touch refreshes a node's heartbeat timestamp and, if metrics is non-nil,
// replaces its metrics snapshot wholesale.
func (r *PeerRegistry) Touch(processID string, metrics *protocol.WorkerMetrics) bool {
	r.mu.RLock()
	node, ok := r.nodes[processID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	node.mu.Lock()
	node.LastHeartbeat = r.nowFunc().UnixMilli()

	if metrics != nil {
		node.Metrics = *metrics
	}
	node.mu.Unlock()

	return true
}

// SetAssignedShards replaces a node's assigned-shard list wholesale.
func (r *PeerRegistry) SetAssignedShards(processID string, shards []int) bool {
	r.mu.RLock()
	node, ok := r.nodes[processID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	node.mu.Lock()
	node.AssignedShards = append([]int(nil), shards...)
	node.mu.Unlock()

	return true
}

// AddShard appends shardID to processID's assigned list.
func (r *PeerRegistry) AddShard(processID string, shardID int) bool {
	r.mu.RLock()
	node, ok := r.nodes[processID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	node.mu.Lock()
	node.AssignedShards = append(node.AssignedShards, shardID)
	node.mu.Unlock()

	return true
}

// RemoveShard deletes shardID from processID's assigned list, if present.
func (r *PeerRegistry) RemoveShard(processID string, shardID int) bool {
	r.mu.RLock()
	node, ok := r.nodes[processID]
	r.mu.RUnlock()

	if !ok {
		return false
	}

	node.mu.Lock()
	defer node.mu.Unlock()

	for i, id := range node.AssignedShards {
		if id == shardID {
			node.AssignedShards = append(node.AssignedShards[:i], node.AssignedShards[i+1:]...)
			return true
		}
	}

	return false
}

// Snapshot returns a point-in-time copy of every node, ordered by
// ProcessID for deterministic output (used by GET /cluster and handoff).
func (r *PeerRegistry) Snapshot() []protocol.PeerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.nowFunc().UnixMilli()

	out := make([]protocol.PeerSnapshot, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.snapshot(now))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProcessID < out[j].ProcessID })

	return out
}

// LoadFrom replaces the registry wholesale from a set of snapshots, used
// when a recovering original coordinator loads CoordinatorHandoffData.
func (r *PeerRegistry) LoadFrom(snapshots []protocol.PeerSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make(map[string]*PeerNode, len(snapshots))

	for _, s := range snapshots {
		r.nodes[s.ProcessID] = &PeerNode{
			ProcessID:      s.ProcessID,
			URL:            s.URL,
			AssignedShards: append([]int(nil), s.AssignedShards...),
			MaxShards:      s.MaxShards,
			LastHeartbeat:  s.LastHeartbeat,
			Metrics:        s.Metrics,
		}
	}
}

// StaleNodes returns the ProcessIDs of every node whose heartbeat is older
// than healthyAfter, ordered for deterministic test output.
func (r *PeerRegistry) StaleNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.nowFunc().UnixMilli()

	var stale []string

	for id, n := range r.nodes {
		n.mu.Lock()
		last := n.LastHeartbeat
		n.mu.Unlock()

		if now-last >= healthyAfter.Milliseconds() {
			stale = append(stale, id)
		}
	}

	sort.Strings(stale)

	return stale
}

// AssignedShardsUnion returns every shard id currently assigned across all
// nodes, used by the assignment algorithm to find unassigned ids.
func (r *PeerRegistry) AssignedShardsUnion() map[int]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int]string)

	for id, n := range r.nodes {
		n.mu.Lock()
		for _, sid := range n.AssignedShards {
			out[sid] = id
		}
		n.mu.Unlock()
	}

	return out
}

// HealthyProcessIDs returns the ids of every node whose heartbeat is within
// healthyAfter, ordered for deterministic round-robin assignment.
func (r *PeerRegistry) HealthyProcessIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.nowFunc().UnixMilli()

	var ids []string

	for id, n := range r.nodes {
		n.mu.Lock()
		last := n.LastHeartbeat
		n.mu.Unlock()

		if now-last < healthyAfter.Milliseconds() {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}

// Len returns the number of registered nodes.
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.nodes)
}
