package cluster

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/kettlecord/shardctl/structs/protocol"
)

func TestWorkerCapScaling(t *testing.T) {
	cases := map[int]int{1: int(^uint(0) >> 1), 2: 8, 3: 6, 4: 6, 5: 4, 8: 4, 9: 2, 20: 2}

	for workers, want := range cases {
		if got := workerCap(workers); got != want {
			t.Errorf("workerCap(%d) = %d, want %d", workers, got, want)
		}
	}
}

func TestLoadBalancerPlansMigrationFromOverloadedWorker(t *testing.T) {
	r := NewPeerRegistry()

	r.Upsert("hot", "http://hot", 0)
	r.SetAssignedShards("hot", []int{0, 1})
	r.Touch("hot", &protocol.WorkerMetrics{
		CPUUsage: 0.95,
		Shards: []protocol.ShardInfo{
			{ShardID: 0, LatencyMS: 100},
			{ShardID: 1, LatencyMS: 900},
		},
	})

	r.Upsert("cool", "http://cool", 0)
	r.Touch("cool", &protocol.WorkerMetrics{CPUUsage: 0.1})

	var plan MigrationPlan
	var called bool

	lb := NewLoadBalancer(r, func(p MigrationPlan) {
		plan = p
		called = true
	}, zerolog.Nop())

	lb.scan()

	if !called {
		t.Fatal("expected a migration to be planned")
	}

	if plan.ShardID != 1 || plan.FromNode != "hot" || plan.ToNode != "cool" {
		t.Fatalf("unexpected migration plan: %+v", plan)
	}
}

func TestLoadBalancerNoActionWhenBalanced(t *testing.T) {
	r := NewPeerRegistry()

	r.Upsert("w1", "http://w1", 0)
	r.SetAssignedShards("w1", []int{0})
	r.Touch("w1", &protocol.WorkerMetrics{CPUUsage: 0.2})

	called := false

	lb := NewLoadBalancer(r, func(p MigrationPlan) { called = true }, zerolog.Nop())
	lb.scan()

	if called {
		t.Fatal("expected no migration when no worker is overloaded")
	}
}
