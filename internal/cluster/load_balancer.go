package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kettlecord/shardctl/structs/protocol"
)

const (
	// balanceInterval is the LoadBalancer's scan cadence.
	balanceInterval = 10 * time.Second

	overloadedCPU   = 0.80
	overloadedMS    = int64(500)
	candidateCPUCap = 0.60
)

// MigrationPlan is one shard move the LoadBalancer wants executed: update
// the registry, then send the migrate and assignment calls. The
// LoadBalancer only plans; a caller-supplied executor performs the
// two-phase commit and owns its failure handling.
type MigrationPlan struct {
	ShardID  int
	FromNode string
	ToNode   string
	Reason   string
}

// workerCap returns the per-worker shard cap for a cluster of totalWorkers
// size. math.MaxInt is used for the uncapped single-worker case.
func workerCap(totalWorkers int) int {
	switch {
	case totalWorkers <= 1:
		return int(^uint(0) >> 1)
	case totalWorkers == 2:
		return 8
	case totalWorkers <= 4:
		return 6
	case totalWorkers <= 8:
		return 4
	default:
		return 2
	}
}

// LoadBalancer periodically inspects PeerRegistry metrics and plans shard
// migrations when a worker is overloaded, snapshotting the registry under
// lock and then acting on the snapshot outside it.
type LoadBalancer struct {
	logger   zerolog.Logger
	registry *PeerRegistry
	execute  func(plan MigrationPlan)

	interval time.Duration

	rrMu    sync.Mutex
	rrIndex int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoadBalancer constructs a LoadBalancer bound to registry. execute is
// invoked once per planned migration; the caller performs the actual
// registry mutation and peer calls (Coordinator.onMigrationPlanned).
func NewLoadBalancer(registry *PeerRegistry, execute func(plan MigrationPlan), logger zerolog.Logger) *LoadBalancer {
	return &LoadBalancer{
		logger:   logger.With().Str("component", "load_balancer").Logger(),
		registry: registry,
		execute:  execute,
		interval: balanceInterval,
	}
}

// Start begins the scan loop in a background goroutine.
func (b *LoadBalancer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				b.scan()
			}
		}
	}()
}

// Stop cancels the scan loop and waits for it to exit.
func (b *LoadBalancer) Stop() {
	if b.cancel != nil {
		b.cancel()
	}

	b.wg.Wait()
}

// scan evaluates one balancing pass: classify overloaded workers, pick
// candidate targets, and plan one migration per overloaded worker.
func (b *LoadBalancer) scan() {
	peers := b.registry.Snapshot()

	overloaded := make([]protocol.PeerSnapshot, 0)
	candidates := make([]protocol.PeerSnapshot, 0)

	shardCap := workerCap(len(peers))

	for _, p := range peers {
		if !p.Healthy {
			continue
		}

		if isOverloaded(p) && len(p.AssignedShards) > 1 {
			overloaded = append(overloaded, p)
			continue
		}

		if p.Metrics.CPUUsage < candidateCPUCap && len(p.AssignedShards) < shardCap {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		return
	}

	sort.Slice(overloaded, func(i, j int) bool { return overloaded[i].ProcessID < overloaded[j].ProcessID })
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ProcessID < candidates[j].ProcessID })

	for _, worker := range overloaded {
		shardID, ok := worstShard(worker)
		if !ok {
			continue
		}

		target := b.nextCandidate(candidates, worker.ProcessID)
		if target == "" {
			continue
		}

		b.logger.Info().
			Int("shard_id", shardID).
			Str("from", worker.ProcessID).
			Str("to", target).
			Msg("planning shard migration")

		if b.execute != nil {
			b.execute(MigrationPlan{
				ShardID:  shardID,
				FromNode: worker.ProcessID,
				ToNode:   target,
				Reason:   "load_balance",
			})
		}
	}
}

// isOverloaded classifies a worker as overloaded when cpu_usage > 0.80 OR
// any shard latency > 500ms.
func isOverloaded(p protocol.PeerSnapshot) bool {
	if p.Metrics.CPUUsage > overloadedCPU {
		return true
	}

	for _, s := range p.Metrics.Shards {
		if s.LatencyMS > overloadedMS {
			return true
		}
	}

	return false
}

// worstShard returns the assigned shard id with the highest reported
// latency.
func worstShard(p protocol.PeerSnapshot) (int, bool) {
	if len(p.Metrics.Shards) == 0 {
		if len(p.AssignedShards) == 0 {
			return 0, false
		}

		return p.AssignedShards[0], true
	}

	best := p.Metrics.Shards[0]
	for _, s := range p.Metrics.Shards[1:] {
		if s.LatencyMS > best.LatencyMS {
			best = s
		}
	}

	return best.ShardID, true
}

// nextCandidate picks the next round-robin candidate other than exclude.
func (b *LoadBalancer) nextCandidate(candidates []protocol.PeerSnapshot, exclude string) string {
	b.rrMu.Lock()
	defer b.rrMu.Unlock()

	for i := 0; i < len(candidates); i++ {
		idx := (b.rrIndex + i) % len(candidates)
		if candidates[idx].ProcessID == exclude {
			continue
		}

		b.rrIndex = idx + 1

		return candidates[idx].ProcessID
	}

	return ""
}
