package gateway

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestShardManagerAlreadyRunning(t *testing.T) {
	m := NewShardManager(Identity{Token: "tok"}, nil, nil, zerolog.Nop())

	// Insert a runner directly so the test never dials a real gateway.
	m.mu.Lock()
	m.runners[0] = NewShardRunner(0, 1, m.identity, m.dispatcher, m.onError, m.logger)
	m.mu.Unlock()

	err := m.StartShard(context.Background(), 0, 1)
	if err != ErrAlreadyRunning {
		t.Fatalf("StartShard on running id = %v, want ErrAlreadyRunning", err)
	}
}

func TestShardManagerStopNotRunning(t *testing.T) {
	m := NewShardManager(Identity{Token: "tok"}, nil, nil, zerolog.Nop())

	if err := m.StopShard(5); err != ErrNotRunning {
		t.Fatalf("StopShard on absent id = %v, want ErrNotRunning", err)
	}
}

func TestShardManagerSnapshotAndIDs(t *testing.T) {
	m := NewShardManager(Identity{Token: "tok"}, nil, nil, zerolog.Nop())

	m.mu.Lock()
	m.runners[0] = NewShardRunner(0, 2, m.identity, m.dispatcher, m.onError, m.logger)
	m.runners[1] = NewShardRunner(1, 2, m.identity, m.dispatcher, m.onError, m.logger)
	m.mu.Unlock()

	ids := m.ShardIDs()
	if len(ids) != 2 {
		t.Fatalf("ShardIDs() returned %d ids, want 2", len(ids))
	}

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() returned %d infos, want 2", len(snap))
	}

	for _, info := range snap {
		if info.Status != "disconnected" {
			t.Errorf("freshly-constructed runner status = %q, want disconnected", info.Status)
		}
	}
}
