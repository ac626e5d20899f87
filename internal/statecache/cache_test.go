package statecache

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kettlecord/shardctl/structs/protocol"
)

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache

	c.WriteSnapshot(context.Background(), protocol.ClusterState{TotalShards: 4})

	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil cache: %v", err)
	}

	if _, err := c.ReadSnapshot(context.Background()); err != ErrNotConfigured {
		t.Fatalf("ReadSnapshot on nil cache = %v, want ErrNotConfigured", err)
	}
}

func TestNewDefaultsEmptyPrefix(t *testing.T) {
	c := New("127.0.0.1:0", "", zerolog.Nop())
	defer c.Close()

	if c.key() != "shardctl:cluster_state" {
		t.Fatalf("key() = %q, want default prefix applied", c.key())
	}
}
