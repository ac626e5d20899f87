package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/structs/protocol"
)

// ErrAlreadyRunning is returned by ShardManager.StartShard when the shard id
// is already running.
var ErrAlreadyRunning = xerrors.New("gateway: shard already running")

// ErrNotRunning is returned by ShardManager.StopShard for an id with no
// active runner.
var ErrNotRunning = xerrors.New("gateway: shard not running")

// ShardManager owns every ShardRunner a single process is responsible for:
// starting, stopping, and snapshotting the shards a worker has been
// assigned.
type ShardManager struct {
	identity   Identity
	dispatcher Dispatcher
	onError    ErrorCallback
	logger     zerolog.Logger

	mu      sync.RWMutex
	runners map[int]*ShardRunner
}

// NewShardManager constructs an empty ShardManager. identity is the
// template cloned (with Shard set) for every runner it starts.
func NewShardManager(identity Identity, dispatcher Dispatcher, onError ErrorCallback, logger zerolog.Logger) *ShardManager {
	return &ShardManager{
		identity:   identity,
		dispatcher: dispatcher,
		onError:    onError,
		logger:     logger.With().Str("component", "shard_manager").Logger(),
		runners:    make(map[int]*ShardRunner),
	}
}

// StartShard starts shardID out of totalShards, erroring if it is already
// running.
func (m *ShardManager) StartShard(ctx context.Context, shardID, totalShards int) error {
	m.mu.Lock()
	if _, exists := m.runners[shardID]; exists {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	runner := NewShardRunner(shardID, totalShards, m.identity, m.dispatcher, m.onError, m.logger)
	m.runners[shardID] = runner
	m.mu.Unlock()

	if err := runner.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.runners, shardID)
		m.mu.Unlock()

		return xerrors.Errorf("shard manager start shard %d: %w", shardID, err)
	}

	return nil
}

// StopShard stops and removes shardID's runner.
func (m *ShardManager) StopShard(shardID int) error {
	m.mu.Lock()
	runner, exists := m.runners[shardID]
	if exists {
		delete(m.runners, shardID)
	}
	m.mu.Unlock()

	if !exists {
		return ErrNotRunning
	}

	runner.Stop()

	return nil
}

// StopAll stops every running shard, used on process shutdown.
func (m *ShardManager) StopAll() {
	m.mu.Lock()
	runners := make([]*ShardRunner, 0, len(m.runners))
	for id, r := range m.runners {
		runners = append(runners, r)
		delete(m.runners, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup

	for _, r := range runners {
		wg.Add(1)

		go func(r *ShardRunner) {
			defer wg.Done()
			r.Stop()
		}(r)
	}

	wg.Wait()
}

// ShardIDs returns the ids of every currently-running shard.
func (m *ShardManager) ShardIDs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}

	return ids
}

// Snapshot returns a ShardInfo for every running shard, the payload a
// worker pushes in its periodic metrics report.
func (m *ShardManager) Snapshot() []protocol.ShardInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]protocol.ShardInfo, 0, len(m.runners))
	for _, r := range m.runners {
		infos = append(infos, r.Info())
	}

	return infos
}
