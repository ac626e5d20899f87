package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
	"nhooyr.io/websocket"

	"github.com/kettlecord/shardctl/structs/protocol"
)

// ShardRunner owns a single Session's full lifecycle: connect, the blocking
// Listen loop, and a clean Stop. It is the unit a ShardManager starts and
// stops per assigned shard id.
type ShardRunner struct {
	ShardID     int
	TotalShards int

	session *Session
	logger  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewShardRunner constructs a ShardRunner bound to shardID out of
// totalShards. identity.Shard is set here so callers never have to
// remember the [shard_id, total_shards] pairing.
func NewShardRunner(shardID, totalShards int, identity Identity, dispatcher Dispatcher, onError ErrorCallback, logger zerolog.Logger) *ShardRunner {
	shard := [2]int{shardID, totalShards}
	identity.Shard = &shard

	l := logger.With().Int("shard_id", shardID).Int("total_shards", totalShards).Logger()

	return &ShardRunner{
		ShardID:     shardID,
		TotalShards: totalShards,
		session:     NewSession(identity, dispatcher, onError, l),
		logger:      l,
	}
}

// Start connects the shard and spawns its Listen loop in the background.
func (r *ShardRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return xerrors.New("shard runner already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	if err := r.session.Connect(runCtx); err != nil {
		r.mu.Lock()
		r.started = false
		r.mu.Unlock()

		return xerrors.Errorf("shard runner start: %w", err)
	}

	go func() {
		defer close(r.done)

		if err := r.session.Listen(); err != nil {
			r.logger.Warn().Err(err).Msg("shard listen loop exited with error")
		}
	}()

	return nil
}

// Stop disconnects the shard and waits for its Listen loop to exit.
func (r *ShardRunner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}

	cancel := r.cancel
	done := r.done
	r.started = false
	r.mu.Unlock()

	r.session.Disconnect(websocket.StatusNormalClosure)

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			r.logger.Warn().Msg("shard listen loop did not exit within 5s of stop")
		}
	}
}

// Info snapshots the runner's state as a protocol.ShardInfo, the unit
// reported up to the coordinator in worker metrics pushes.
func (r *ShardRunner) Info() protocol.ShardInfo {
	return protocol.ShardInfo{
		ShardID: r.ShardID,
		Status:  r.session.State().String(),
	}
}
