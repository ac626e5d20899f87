// Package protocol defines the wire types exchanged between coordinator
// and worker nodes over the coordination HTTP protocol. Every type here
// round-trips through the shared jsoniter codec in internal/wire.
package protocol

// BaseResponse is the common envelope for every coordination response,
// carrying either Data on success or Error on failure.
type BaseResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WorkerRegistration is the body of POST /register.
type WorkerRegistration struct {
	ProcessID  string `json:"process_id"`
	URL        string `json:"url"`
	MaxShards  int    `json:"max_shards,omitempty"`
	MemoryMB   int64  `json:"memory_mb"`
	Cores      int    `json:"cores"`
	Platform   string `json:"platform"`
	Timestamp  int64  `json:"timestamp"`
}

// WorkerRegistrationResponse is the response of POST /register.
type WorkerRegistrationResponse struct {
	ProcessID       string            `json:"process_id"`
	AssignedShards  []int             `json:"assigned_shards"`
	TotalShards     int               `json:"total_shards"`
	Succession      []SuccessionEntry `json:"succession"`
	CoordinatorID   string            `json:"coordinator_id"`
	CoordinatorURL  string            `json:"coordinator_url"`
}

// SuccessionEntry is one node's position in the succession list.
type SuccessionEntry struct {
	Position              int    `json:"position"`
	ProcessID              string `json:"process_id"`
	URL                     string `json:"url"`
	IsOriginalCoordinator   bool   `json:"is_original_coordinator"`
}

// ShardInfo is the per-shard status reported inside WorkerMetrics and
// /health responses.
type ShardInfo struct {
	ShardID       int     `json:"shard_id"`
	Status        string  `json:"status"`
	LatencyMS     int64   `json:"latency_ms"`
	EventsPerSec  float64 `json:"events_per_sec"`
	CommandsPerSec float64 `json:"commands_per_sec"`
	Guilds        int     `json:"guilds"`
}

// WorkerMetrics is the body of POST /metrics.
type WorkerMetrics struct {
	ProcessID      string      `json:"process_id"`
	Timestamp      int64       `json:"timestamp"`
	CPUUsage       float64     `json:"cpu_usage"`
	MemoryMB       float64     `json:"memory_mb"`
	Shards         []ShardInfo `json:"shards"`
	HealthLabel    string      `json:"health_label"`
	GoroutineCount int         `json:"goroutine_count"`
	HeapAllocBytes uint64      `json:"heap_alloc_bytes"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string      `json:"status"`
	Shards        []ShardInfo `json:"shards"`
	IsCoordinator bool        `json:"is_coordinator"`
	Timestamp     int64       `json:"timestamp"`
}

// ClusterState is the body of GET /cluster.
type ClusterState struct {
	TotalShards int               `json:"total_shards"`
	Peers       []PeerSnapshot    `json:"peers"`
	Succession  []SuccessionEntry `json:"succession"`
}

// PeerSnapshot is a single entry of the /cluster response, a read-only copy
// of a PeerNode.
type PeerSnapshot struct {
	ProcessID      string        `json:"process_id"`
	URL            string        `json:"url"`
	AssignedShards []int         `json:"assigned_shards"`
	MaxShards      int           `json:"max_shards,omitempty"`
	LastHeartbeat  int64         `json:"last_heartbeat"`
	Healthy        bool          `json:"healthy"`
	Metrics        WorkerMetrics `json:"metrics"`
}

// ShardAssignment is the body of POST /assignment.
type ShardAssignment struct {
	Shards    []int  `json:"shards"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// ShardMigrationRequest is the body of POST /migrate.
type ShardMigrationRequest struct {
	ShardID   int    `json:"shard_id"`
	FromNode  string `json:"from_node"`
	ToNode    string `json:"to_node"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// SuccessionUpdate is the body of POST /succession.
type SuccessionUpdate struct {
	Succession  []SuccessionEntry `json:"succession"`
	RemovedNode string            `json:"removed_node,omitempty"`
	AddedNode   string            `json:"added_node,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// CoordinatorResumptionRequest is the body of POST /coordinator/resume.
type CoordinatorResumptionRequest struct {
	OriginalCoordinatorID  string `json:"original_coordinator_id"`
	OriginalCoordinatorURL string `json:"original_coordinator_url"`
	Timestamp              int64  `json:"timestamp"`
}

// CoordinatorHandoffData is the full state transferred from a temporary
// coordinator back to the recovering original coordinator.
type CoordinatorHandoffData struct {
	TotalShards int               `json:"total_shards"`
	Peers       []PeerSnapshot    `json:"peers"`
	Succession  []SuccessionEntry `json:"succession"`
	Timestamp   int64             `json:"timestamp"`
}

// CoordinatorResumedAnnouncement is the body of POST /coordinator/resumed.
type CoordinatorResumedAnnouncement struct {
	NewCoordinatorID  string `json:"new_coordinator_id"`
	NewCoordinatorURL string `json:"new_coordinator_url"`
	Timestamp         int64  `json:"timestamp"`
}

// ClusterEvent is an optional, additive telemetry record published to the
// event bus. It carries no protocol authority; losing one changes nothing
// about cluster correctness.
type ClusterEvent struct {
	Kind      string `json:"kind"`
	ProcessID string `json:"process_id"`
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}
