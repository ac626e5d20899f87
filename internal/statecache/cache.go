// Package statecache implements an optional Redis write-through snapshot
// cache: a read-only diagnostics view of the coordinator's
// PeerRegistry/SuccessionList, never an authority source. The in-memory
// PeerRegistry remains authoritative since the system stays stateless
// across restarts; losing this cache changes nothing about cluster
// correctness, only how quickly an external dashboard can answer "what
// does the cluster look like right now" without hitting GET /cluster.
package statecache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/structs/protocol"
)

const defaultTTL = 30 * time.Second

// Cache writes a point-in-time ClusterState snapshot to Redis on every
// PeerRegistry/SuccessionList mutation. A nil *Cache is valid and
// Write/Read become no-ops/ErrNotConfigured.
type Cache struct {
	logger zerolog.Logger
	client *redis.Client
	prefix string
}

// New constructs a Cache against addr, prefixing every key with prefix
// (empty defaults to "shardctl").
func New(addr, prefix string, logger zerolog.Logger) *Cache {
	if prefix == "" {
		prefix = "shardctl"
	}

	return &Cache{
		logger: logger.With().Str("component", "statecache").Logger(),
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	return c.client.Close()
}

func (c *Cache) key() string {
	return c.prefix + ":cluster_state"
}

// WriteSnapshot encodes and stores state, overwriting any prior snapshot.
// Errors are logged, never returned: a Redis outage must never interrupt a
// coordinator decision.
func (c *Cache) WriteSnapshot(ctx context.Context, state protocol.ClusterState) {
	if c == nil || c.client == nil {
		return
	}

	data, err := msgpack.Marshal(state)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to encode cluster state snapshot")
		return
	}

	if err := c.client.Set(ctx, c.key(), data, defaultTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to write cluster state snapshot")
	}
}

// ErrNotConfigured is returned by ReadSnapshot when called on a nil Cache.
var ErrNotConfigured = xerrors.New("statecache: not configured")

// ReadSnapshot fetches the last-written snapshot, for diagnostics tooling
// only; the coordinator never reads its own cache back to make a decision.
func (c *Cache) ReadSnapshot(ctx context.Context) (protocol.ClusterState, error) {
	var state protocol.ClusterState

	if c == nil || c.client == nil {
		return state, ErrNotConfigured
	}

	data, err := c.client.Get(ctx, c.key()).Bytes()
	if err != nil {
		return state, xerrors.Errorf("statecache read: %w", err)
	}

	if err := msgpack.Unmarshal(data, &state); err != nil {
		return state, xerrors.Errorf("statecache decode: %w", err)
	}

	return state, nil
}
