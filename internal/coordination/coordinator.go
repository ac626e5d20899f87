package coordination

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tevino/abool"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/internal/cluster"
	"github.com/kettlecord/shardctl/internal/eventbus"
	"github.com/kettlecord/shardctl/internal/restclient"
	"github.com/kettlecord/shardctl/internal/statecache"
	"github.com/kettlecord/shardctl/structs/protocol"
)

// ErrResigned is returned by HandleRegister and HandleMetrics once this node
// has handed off to a recovering original coordinator. The temporary
// coordinator steps down as soon as it sends the handoff response.
var ErrResigned = xerrors.New("coordinator: resigned, contact the original coordinator")

// ErrAlreadyOriginal is returned by HandleResumeRequest when called on a
// node that is itself the original coordinator and was never superseded.
var ErrAlreadyOriginal = xerrors.New("coordinator: this node is already the original coordinator")

// Coordinator implements the coordinator role: registration, shard
// assignment, metrics ingestion, health monitoring, load balancing, and
// original-coordinator resumption handoff.
type Coordinator struct {
	logger zerolog.Logger

	ProcessID string
	URL       string
	Original  bool

	TotalShards int

	registry   *cluster.PeerRegistry
	succession *cluster.SuccessionList
	client     *Client

	healthMonitor *cluster.HealthMonitor
	loadBalancer  *cluster.LoadBalancer

	events *eventbus.Publisher
	cache  *statecache.Cache

	assignMu sync.Mutex // serializes assignment decisions
	resigned *abool.AtomicBool

	nowFunc func() time.Time
}

// NewCoordinator constructs a Coordinator. totalShards should already be
// resolved; callers typically run restclient.Client.FetchJSON against
// /gateway/bot first and pass the result here, defaulting to 1 on error.
func NewCoordinator(processID, url string, original bool, totalShards int, client *Client, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		logger:      logger.With().Str("component", "coordinator").Logger(),
		ProcessID:   processID,
		URL:         url,
		Original:    original,
		TotalShards: totalShards,
		registry:    cluster.NewPeerRegistry(),
		succession:  cluster.NewSuccessionList(),
		client:      client,
		resigned:    abool.New(),
		nowFunc:     time.Now,
	}

	c.succession.Add(processID, url, original)

	c.healthMonitor = cluster.NewHealthMonitor(c.registry, c.onWorkerDead, c.logger)
	c.loadBalancer = cluster.NewLoadBalancer(c.registry, c.onMigrationPlanned, c.logger)

	return c
}

// WithEnrichment attaches the optional event bus and state cache hooks.
// Either may be nil.
func (c *Coordinator) WithEnrichment(events *eventbus.Publisher, cache *statecache.Cache) *Coordinator {
	c.events = events
	c.cache = cache

	return c
}

// DiscoverTotalShards performs the authenticated GET against Discord's
// /gateway/bot and returns the shard count, defaulting to 1 and logging on
// error.
func DiscoverTotalShards(ctx context.Context, rest *restclient.Client, logger zerolog.Logger) int {
	var bot struct {
		Shards int `json:"shards"`
	}

	if _, err := rest.FetchJSON(ctx, "GET", restclient.GatewayBotRoute, nil, &bot); err != nil {
		logger.Warn().Err(err).Msg("gateway/bot auto-discovery failed, defaulting to 1 shard")
		return 1
	}

	if bot.Shards < 1 {
		return 1
	}

	return bot.Shards
}

// RegisterHandlers wires the coordinator-role endpoint set onto server. The
// same CoordinationServer type is used by both roles, differentiated only
// by which handlers are registered. Shared by a node that boots directly
// into the coordinator role and by Worker.promote, which installs this
// same set onto its existing server after self-promotion.
func (c *Coordinator) RegisterHandlers(server *Server) {
	server.Handle(http.MethodPost, "/register", func(ctx context.Context, body []byte) (interface{}, error) {
		var req protocol.WorkerRegistration
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}

		return c.HandleRegister(ctx, req)
	})

	server.Handle(http.MethodPost, "/metrics", func(ctx context.Context, body []byte) (interface{}, error) {
		var req protocol.WorkerMetrics
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}

		return nil, c.HandleMetrics(req)
	})

	server.Handle(http.MethodGet, "/cluster", func(ctx context.Context, body []byte) (interface{}, error) {
		return c.HandleCluster(), nil
	})

	server.Handle(http.MethodPost, "/coordinator/resume", func(ctx context.Context, body []byte) (interface{}, error) {
		var req protocol.CoordinatorResumptionRequest
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}

		return c.HandleResumeRequest(req)
	})

	server.Handle(http.MethodGet, "/health", func(ctx context.Context, body []byte) (interface{}, error) {
		return c.HandleHealth(), nil
	})
}

// Start begins the HealthMonitor and LoadBalancer timer loops.
func (c *Coordinator) Start(ctx context.Context) {
	c.healthMonitor.Start(ctx)
	c.loadBalancer.Start(ctx)
}

// Stop halts the HealthMonitor and LoadBalancer timer loops.
func (c *Coordinator) Stop() {
	c.healthMonitor.Stop()
	c.loadBalancer.Stop()
}

// IsResigned reports whether this coordinator has handed off to a
// recovering original coordinator.
func (c *Coordinator) IsResigned() bool {
	return c.resigned.IsSet()
}

// peerURLs returns every currently known peer URL, excluding self.
func (c *Coordinator) peerURLs() []string {
	snap := c.registry.Snapshot()

	urls := make([]string, 0, len(snap))
	for _, p := range snap {
		if p.ProcessID != c.ProcessID {
			urls = append(urls, p.URL)
		}
	}

	return urls
}

func (c *Coordinator) broadcastSuccession(ctx context.Context, removed, added string) {
	update := protocol.SuccessionUpdate{
		Succession:  c.succession.Snapshot(),
		RemovedNode: removed,
		AddedNode:   added,
		Timestamp:   c.nowFunc().UnixMilli(),
	}

	c.client.BroadcastSuccession(ctx, c.peerURLs(), update)
}

func (c *Coordinator) writeCacheSnapshot(ctx context.Context) {
	if c.cache == nil {
		return
	}

	c.cache.WriteSnapshot(ctx, protocol.ClusterState{
		TotalShards: c.TotalShards,
		Peers:       c.registry.Snapshot(),
		Succession:  c.succession.Snapshot(),
	})
}

// HandleRegister implements POST /register.
func (c *Coordinator) HandleRegister(ctx context.Context, req protocol.WorkerRegistration) (protocol.WorkerRegistrationResponse, error) {
	if c.resigned.IsSet() {
		return protocol.WorkerRegistrationResponse{}, ErrResigned
	}

	if req.ProcessID == "" || req.URL == "" {
		return protocol.WorkerRegistrationResponse{}, xerrors.New("coordinator register: missing process_id or url")
	}

	c.assignMu.Lock()
	defer c.assignMu.Unlock()

	c.registry.Upsert(req.ProcessID, req.URL, req.MaxShards)
	c.succession.Add(req.ProcessID, req.URL, false)

	assigned := c.assignShardsLocked(req.ProcessID)

	c.broadcastSuccession(ctx, "", req.ProcessID)
	c.writeCacheSnapshot(ctx)

	if c.events != nil {
		c.events.Publish(protocol.ClusterEvent{Kind: "worker_joined", ProcessID: req.ProcessID, Timestamp: c.nowFunc().UnixMilli()})
	}

	return protocol.WorkerRegistrationResponse{
		ProcessID:      req.ProcessID,
		AssignedShards: assigned,
		TotalShards:    c.TotalShards,
		Succession:     c.succession.Snapshot(),
		CoordinatorID:  c.ProcessID,
		CoordinatorURL: c.URL,
	}, nil
}

// assignShardsLocked gives newProcessID its shard(s): unassigned shards one
// per registration lowest-id first; if none remain, steal one from the
// worker with the most assigned shards. Caller holds assignMu.
func (c *Coordinator) assignShardsLocked(newProcessID string) []int {
	union := c.registry.AssignedShardsUnion()

	for id := 0; id < c.TotalShards; id++ {
		if _, taken := union[id]; !taken {
			c.registry.AddShard(newProcessID, id)
			return []int{id}
		}
	}

	// All shards assigned, steal from the most-loaded worker.
	donor, shardID, ok := c.mostLoadedOtherThan(newProcessID)
	if !ok {
		return nil
	}

	c.registry.RemoveShard(donor, shardID)
	c.registry.AddShard(newProcessID, shardID)

	return []int{shardID}
}

func (c *Coordinator) mostLoadedOtherThan(exclude string) (processID string, shardID int, ok bool) {
	snap := c.registry.Snapshot()

	sort.Slice(snap, func(i, j int) bool { return snap[i].ProcessID < snap[j].ProcessID })

	best := -1

	for _, p := range snap {
		if p.ProcessID == exclude || len(p.AssignedShards) == 0 {
			continue
		}

		if len(p.AssignedShards) > best {
			best = len(p.AssignedShards)
			processID = p.ProcessID
			shardID = p.AssignedShards[0]
			ok = true
		}
	}

	return processID, shardID, ok
}

// HandleMetrics implements POST /metrics.
func (c *Coordinator) HandleMetrics(req protocol.WorkerMetrics) error {
	if c.resigned.IsSet() {
		return ErrResigned
	}

	if !c.registry.Touch(req.ProcessID, &req) {
		return xerrors.Errorf("coordinator metrics: unknown process_id %q", req.ProcessID)
	}

	return nil
}

// HandleHealth implements GET /health for a coordinator-role node.
func (c *Coordinator) HandleHealth() protocol.HealthResponse {
	return protocol.HealthResponse{
		Status:        "ok",
		IsCoordinator: !c.resigned.IsSet(),
		Timestamp:     c.nowFunc().UnixMilli(),
	}
}

// HandleCluster implements GET /cluster.
func (c *Coordinator) HandleCluster() protocol.ClusterState {
	return protocol.ClusterState{
		TotalShards: c.TotalShards,
		Peers:       c.registry.Snapshot(),
		Succession:  c.succession.Snapshot(),
	}
}

// onWorkerDead is the HealthMonitor callback: remove the dead worker,
// redistribute its shards round-robin across survivors, and broadcast
// succession.
func (c *Coordinator) onWorkerDead(processID string) {
	c.assignMu.Lock()

	node := c.registry.Get(processID)

	var lost []int
	if node != nil {
		lost = append(lost, node.AssignedShards...)
	}

	c.registry.Remove(processID)
	c.succession.Remove(processID)

	survivors := c.registry.HealthyProcessIDs()

	for i, shardID := range lost {
		if len(survivors) == 0 {
			break
		}

		target := survivors[i%len(survivors)]
		c.registry.AddShard(target, shardID)
	}

	c.assignMu.Unlock()

	ctx := context.Background()
	c.broadcastSuccession(ctx, processID, "")
	c.writeCacheSnapshot(ctx)

	if c.events != nil {
		c.events.Publish(protocol.ClusterEvent{Kind: "worker_lost", ProcessID: processID, Timestamp: c.nowFunc().UnixMilli()})
	}
}

// onMigrationPlanned is the LoadBalancer callback: commit the migration to
// the registry, then notify source and target.
func (c *Coordinator) onMigrationPlanned(plan cluster.MigrationPlan) {
	from := c.registry.Get(plan.FromNode)
	to := c.registry.Get(plan.ToNode)

	if from == nil || to == nil {
		return
	}

	c.registry.RemoveShard(plan.FromNode, plan.ShardID)
	c.registry.AddShard(plan.ToNode, plan.ShardID)

	ctx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()

	ts := c.nowFunc().UnixMilli()

	if err := c.client.Migrate(ctx, from.URL, protocol.ShardMigrationRequest{
		ShardID: plan.ShardID, FromNode: plan.FromNode, ToNode: plan.ToNode, Reason: plan.Reason, Timestamp: ts,
	}); err != nil {
		c.logger.Warn().Err(err).Str("peer", from.URL).Msg("failed to notify migration source, skipping")
	}

	if err := c.client.Assignment(ctx, to.URL, protocol.ShardAssignment{
		Shards: []int{plan.ShardID}, Reason: plan.Reason, Timestamp: ts,
	}); err != nil {
		c.logger.Warn().Err(err).Str("peer", to.URL).Msg("failed to notify migration target, skipping")
	}

	if c.events != nil {
		c.events.Publish(protocol.ClusterEvent{
			Kind: "shard_migrated", ProcessID: plan.ToNode,
			Detail: plan.Reason, Timestamp: ts,
		})
	}

	c.writeCacheSnapshot(ctx)
}

// AttemptResumption implements the calling half of coordinator resumption:
// a restarting original coordinator contacts the current (temporary)
// coordinator, loads the returned handoff state, places itself at position
// 1 of the succession, and announces the takeover to every surviving
// worker. Called once at boot by a node configured with Original=true whose
// ClusterURL does not point at itself.
func (c *Coordinator) AttemptResumption(ctx context.Context, tempCoordinatorURL string) error {
	req := protocol.CoordinatorResumptionRequest{
		OriginalCoordinatorID:  c.ProcessID,
		OriginalCoordinatorURL: c.URL,
		Timestamp:              c.nowFunc().UnixMilli(),
	}

	handoff, err := c.client.ResumeRequest(ctx, tempCoordinatorURL, req)
	if err != nil {
		return xerrors.Errorf("coordinator resume: %w", err)
	}

	c.TotalShards = handoff.TotalShards
	c.registry.LoadFrom(handoff.Peers)
	c.succession.LoadFrom(handoff.Succession)
	c.succession.PromoteToFront(c.ProcessID, c.URL, true)

	c.logger.Info().Str("temp_coordinator", tempCoordinatorURL).Msg("resumed original coordinator role")

	announcement := protocol.CoordinatorResumedAnnouncement{
		NewCoordinatorID:  c.ProcessID,
		NewCoordinatorURL: c.URL,
		Timestamp:         c.nowFunc().UnixMilli(),
	}

	for _, url := range c.peerURLs() {
		if err := c.client.Resumed(ctx, url, announcement); err != nil {
			c.logger.Warn().Err(err).Str("peer", url).Msg("failed to announce resumption, skipping")
		}
	}

	return nil
}

// HandleResumeRequest implements POST /coordinator/resume: respond with the
// full handoff state and resign.
func (c *Coordinator) HandleResumeRequest(req protocol.CoordinatorResumptionRequest) (protocol.CoordinatorHandoffData, error) {
	if c.Original {
		return protocol.CoordinatorHandoffData{}, ErrAlreadyOriginal
	}

	handoff := protocol.CoordinatorHandoffData{
		TotalShards: c.TotalShards,
		Peers:       c.registry.Snapshot(),
		Succession:  c.succession.Snapshot(),
		Timestamp:   c.nowFunc().UnixMilli(),
	}

	c.resigned.Set()
	c.Stop()

	c.logger.Info().Str("original_coordinator", req.OriginalCoordinatorID).Msg("resigning coordinator role to recovering original")

	return handoff, nil
}
