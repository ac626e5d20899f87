package cluster

import (
	"testing"
	"time"

	"github.com/kettlecord/shardctl/structs/protocol"
)

func TestPeerRegistryAssignedShardsUnion(t *testing.T) {
	r := NewPeerRegistry()

	r.Upsert("w1", "http://w1", 0)
	r.Upsert("w2", "http://w2", 0)

	r.SetAssignedShards("w1", []int{0, 1})
	r.SetAssignedShards("w2", []int{2})

	union := r.AssignedShardsUnion()

	if len(union) != 3 {
		t.Fatalf("expected 3 assigned shards, got %d", len(union))
	}

	if union[0] != "w1" || union[2] != "w2" {
		t.Fatalf("unexpected ownership map: %+v", union)
	}
}

func TestPeerRegistryStaleNodes(t *testing.T) {
	r := NewPeerRegistry()

	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	r.Upsert("w1", "http://w1", 0)

	r.nowFunc = func() time.Time { return now.Add(20 * time.Second) }

	stale := r.StaleNodes()
	if len(stale) != 1 || stale[0] != "w1" {
		t.Fatalf("expected w1 stale, got %v", stale)
	}
}

func TestPeerRegistryTouchRefreshesHeartbeat(t *testing.T) {
	r := NewPeerRegistry()

	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	r.Upsert("w1", "http://w1", 0)

	r.nowFunc = func() time.Time { return now.Add(20 * time.Second) }

	if len(r.StaleNodes()) != 1 {
		t.Fatal("expected w1 to be stale before touch")
	}

	r.Touch("w1", &protocol.WorkerMetrics{CPUUsage: 0.1})

	if len(r.StaleNodes()) != 0 {
		t.Fatal("expected w1 fresh after touch")
	}
}

func TestPeerRegistryAddRemoveShard(t *testing.T) {
	r := NewPeerRegistry()
	r.Upsert("w1", "http://w1", 0)

	r.AddShard("w1", 5)
	r.AddShard("w1", 6)

	if !r.RemoveShard("w1", 5) {
		t.Fatal("expected RemoveShard to report removal")
	}

	node := r.Get("w1")

	if len(node.AssignedShards) != 1 || node.AssignedShards[0] != 6 {
		t.Fatalf("unexpected assigned shards after remove: %v", node.AssignedShards)
	}
}

func TestPeerRegistryLoadFromRoundTrips(t *testing.T) {
	r := NewPeerRegistry()
	r.Upsert("w1", "http://w1", 4)
	r.SetAssignedShards("w1", []int{1, 2})

	snap := r.Snapshot()

	other := NewPeerRegistry()
	other.LoadFrom(snap)

	got := other.Get("w1")
	if got == nil || len(got.AssignedShards) != 2 {
		t.Fatalf("expected loaded node to retain assigned shards, got %+v", got)
	}
}
