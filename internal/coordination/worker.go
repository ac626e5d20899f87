package coordination

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	"github.com/tevino/abool"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/internal/cluster"
	"github.com/kettlecord/shardctl/internal/gateway"
	"github.com/kettlecord/shardctl/internal/metrics"
	"github.com/kettlecord/shardctl/structs/protocol"
)

const (
	metricsInterval       = 5 * time.Second
	healthProbeInterval   = 5 * time.Second
	promotionFailureCount = 3 // consecutive failed probes before self-promotion
	resumedSettleDelay    = 2 * time.Second
)

// Worker implements the worker role: registers with the coordinator, runs
// its assigned ShardRunners, reports metrics, and watches for coordinator
// loss. It is wired to internal/gateway.ShardManager for shard lifecycle
// and internal/metrics.Sampler for the runtime-stat half of WorkerMetrics.
type Worker struct {
	logger zerolog.Logger

	ProcessID string
	ListenURL string

	// Original marks this node as entitled to reclaim the coordinator role
	// on recovery. Set from a boot-time flag.
	Original bool

	coordURLMu     sync.RWMutex
	coordinatorURL string

	totalShardsMu sync.RWMutex
	totalShards   int

	succession *cluster.SuccessionList
	shards     *gateway.ShardManager
	client     *Client
	server     *Server
	sampler    *metrics.Sampler

	promoted    *abool.AtomicBool
	coordinator *Coordinator

	failStreak int32

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// newCoordinator builds a fresh Coordinator when this worker promotes
	// itself; overridable in tests.
	newCoordinator func() *Coordinator

	nowFunc func() time.Time
}

// NewWorker constructs a Worker. shards is the ShardManager this worker
// drives; client and server are the shared coordination transport/server
// the caller also uses for any coordinator-role promotion.
func NewWorker(listenURL, coordinatorURL string, original bool, shards *gateway.ShardManager, client *Client, server *Server, logger zerolog.Logger) (*Worker, error) {
	processID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, xerrors.Errorf("worker new: generate process id: %w", err)
	}

	w := &Worker{
		logger:         logger.With().Str("component", "worker").Str("process_id", processID).Logger(),
		ProcessID:      processID,
		ListenURL:      listenURL,
		Original:       original,
		coordinatorURL: coordinatorURL,
		succession:     cluster.NewSuccessionList(),
		shards:         shards,
		client:         client,
		server:         server,
		sampler:        metrics.NewSampler(),
		promoted:       abool.New(),
		nowFunc:        time.Now,
	}

	w.registerHandlers()

	return w, nil
}

func (w *Worker) registerHandlers() {
	w.server.Handle(http.MethodGet, "/health", func(ctx context.Context, body []byte) (interface{}, error) {
		return w.HandleHealth(), nil
	})

	w.server.Handle(http.MethodPost, "/assignment", func(ctx context.Context, body []byte) (interface{}, error) {
		var req protocol.ShardAssignment
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}

		return nil, w.HandleAssignment(ctx, req)
	})

	w.server.Handle(http.MethodPost, "/migrate", func(ctx context.Context, body []byte) (interface{}, error) {
		var req protocol.ShardMigrationRequest
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}

		return nil, w.HandleMigrate(req)
	})

	w.server.Handle(http.MethodPost, "/succession", func(ctx context.Context, body []byte) (interface{}, error) {
		var req protocol.SuccessionUpdate
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}

		return nil, w.HandleSuccession(req)
	})

	w.server.Handle(http.MethodPost, "/coordinator/resumed", func(ctx context.Context, body []byte) (interface{}, error) {
		var req protocol.CoordinatorResumedAnnouncement
		if err := DecodeBody(body, &req); err != nil {
			return nil, err
		}

		return nil, w.HandleResumed(req)
	})
}

func (w *Worker) coordURL() string {
	w.coordURLMu.RLock()
	defer w.coordURLMu.RUnlock()

	return w.coordinatorURL
}

func (w *Worker) setCoordURL(url string) {
	w.coordURLMu.Lock()
	w.coordinatorURL = url
	w.coordURLMu.Unlock()
}

// Start registers with the coordinator and begins the metrics and
// health-probe timer loops.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Register(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(2)

	go w.metricsLoop(runCtx)
	go w.healthWatchLoop(runCtx)

	return nil
}

// Stop halts the worker's background loops and every running shard.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}

	w.wg.Wait()
	w.shards.StopAll()
}

// Register sends POST /register to the coordinator, receives initial
// assignments and succession, and starts a ShardRunner for each assigned id
// using the coordinator-supplied totalShards.
func (w *Worker) Register(ctx context.Context) error {
	req := protocol.WorkerRegistration{
		ProcessID: w.ProcessID,
		URL:       w.ListenURL,
		MemoryMB:  memoryMB(),
		Cores:     runtime.NumCPU(),
		Platform:  runtime.GOOS,
		Timestamp: w.nowFunc().UnixMilli(),
	}

	resp, err := w.client.Register(ctx, w.coordURL(), req)
	if err != nil {
		return xerrors.Errorf("worker register: %w", err)
	}

	w.totalShardsMu.Lock()
	w.totalShards = resp.TotalShards
	w.totalShardsMu.Unlock()

	w.succession.LoadFrom(resp.Succession)

	for _, id := range resp.AssignedShards {
		if err := w.shards.StartShard(ctx, id, resp.TotalShards); err != nil {
			w.logger.Warn().Err(err).Int("shard_id", id).Msg("failed to start assigned shard")
		}
	}

	w.logger.Info().Ints("shards", resp.AssignedShards).Msg("registered with coordinator")

	return nil
}

// HandleAssignment implements POST /assignment: start runners for newly
// listed shards, recording the stated reason for observability.
func (w *Worker) HandleAssignment(ctx context.Context, req protocol.ShardAssignment) error {
	w.totalShardsMu.RLock()
	total := w.totalShards
	w.totalShardsMu.RUnlock()

	running := make(map[int]bool)
	for _, id := range w.shards.ShardIDs() {
		running[id] = true
	}

	for _, id := range req.Shards {
		if running[id] {
			continue
		}

		w.logger.Info().Int("shard_id", id).Str("reason", req.Reason).Msg("starting newly assigned shard")

		if err := w.shards.StartShard(ctx, id, total); err != nil {
			w.logger.Warn().Err(err).Int("shard_id", id).Msg("failed to start assigned shard")
		}
	}

	return nil
}

// HandleMigrate implements POST /migrate: stop the named shard runner
// gracefully if this worker is the migration source.
func (w *Worker) HandleMigrate(req protocol.ShardMigrationRequest) error {
	if req.FromNode != w.ProcessID {
		return nil
	}

	if err := w.shards.StopShard(req.ShardID); err != nil && !xerrors.Is(err, gateway.ErrNotRunning) {
		return xerrors.Errorf("worker migrate: %w", err)
	}

	return nil
}

// HandleSuccession implements POST /succession: replace the local
// succession list with the broadcast snapshot.
func (w *Worker) HandleSuccession(req protocol.SuccessionUpdate) error {
	w.succession.LoadFrom(req.Succession)
	return nil
}

// HandleResumed implements POST /coordinator/resumed: update the cached
// coordinator URL and, after a settle delay, re-register.
func (w *Worker) HandleResumed(req protocol.CoordinatorResumedAnnouncement) error {
	w.setCoordURL(req.NewCoordinatorURL)

	go func() {
		time.Sleep(resumedSettleDelay)

		if err := w.Register(context.Background()); err != nil {
			w.logger.Warn().Err(err).Msg("re-registration after coordinator resumption failed")
		}
	}()

	return nil
}

// HandleHealth implements GET /health for a worker-role node.
func (w *Worker) HandleHealth() protocol.HealthResponse {
	return protocol.HealthResponse{
		Status:        "ok",
		Shards:        w.shards.Snapshot(),
		IsCoordinator: w.promoted.IsSet(),
		Timestamp:     w.nowFunc().UnixMilli(),
	}
}

func (w *Worker) metricsLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pushMetrics(ctx)
		}
	}
}

func (w *Worker) pushMetrics(ctx context.Context) {
	if w.promoted.IsSet() {
		return
	}

	sample := w.sampler.Sample()

	req := protocol.WorkerMetrics{
		ProcessID:      w.ProcessID,
		Timestamp:      w.nowFunc().UnixMilli(),
		CPUUsage:       sample.CPUUsage,
		MemoryMB:       sample.MemoryMB,
		Shards:         w.shards.Snapshot(),
		HealthLabel:    "healthy",
		GoroutineCount: sample.GoroutineCount,
		HeapAllocBytes: sample.HeapAllocBytes,
	}

	if err := w.client.Metrics(ctx, w.coordURL(), req); err != nil {
		w.logger.Warn().Err(err).Msg("failed to push metrics")
	}
}

// healthWatchLoop probes the cached coordinator URL every
// healthProbeInterval. promotionFailureCount consecutive failed probes
// trigger self-promotion.
func (w *Worker) healthWatchLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probeCoordinator(ctx)
		}
	}
}

func (w *Worker) probeCoordinator(ctx context.Context) {
	if w.promoted.IsSet() {
		return
	}

	_, err := w.client.Health(ctx, w.coordURL())
	if err == nil {
		w.failStreak = 0
		return
	}

	w.failStreak++

	w.logger.Warn().Err(err).Int32("fail_streak", w.failStreak).Msg("coordinator health probe failed")

	if w.failStreak < promotionFailureCount {
		return
	}

	if w.succession.PositionOf(w.ProcessID) != 1 {
		return
	}

	w.promote(ctx)
}

// promote handles coordinator failure detection: this worker stops
// registering and starts accepting coordinator-role traffic on its
// existing Server. It additionally removes the unreachable coordinator
// from its local succession copy and broadcasts the result so surviving
// peers learn the new coordinator URL, following the same broadcast idiom
// the coordinator role uses elsewhere.
func (w *Worker) promote(ctx context.Context) {
	if !w.promoted.SetToIf(false, true) {
		return
	}

	w.logger.Warn().Msg("promoting self to coordinator after repeated health probe failures")

	if coord, ok := w.succession.Coordinator(); ok {
		w.succession.Remove(coord.ProcessID)
	}

	w.succession.PromoteToFront(w.ProcessID, w.ListenURL, w.Original)

	w.totalShardsMu.RLock()
	total := w.totalShards
	w.totalShardsMu.RUnlock()

	var coordinator *Coordinator
	if w.newCoordinator != nil {
		coordinator = w.newCoordinator()
	} else {
		coordinator = NewCoordinator(w.ProcessID, w.ListenURL, w.Original, total, w.client, w.logger)
	}

	w.coordinator = coordinator
	w.coordinator.Start(ctx)
	w.coordinator.RegisterHandlers(w.server)

	peers := make([]string, 0)
	for _, e := range w.succession.Snapshot() {
		if e.ProcessID != w.ProcessID {
			peers = append(peers, e.URL)
		}
	}

	w.client.BroadcastSuccession(ctx, peers, protocol.SuccessionUpdate{
		Succession: w.succession.Snapshot(),
		Timestamp:  w.nowFunc().UnixMilli(),
	})
}

func memoryMB() int64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return int64(mem.Sys / (1024 * 1024))
}
