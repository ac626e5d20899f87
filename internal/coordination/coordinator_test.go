package coordination

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kettlecord/shardctl/structs/protocol"
)

func newTestCoordinator(t *testing.T, totalShards int) *Coordinator {
	t.Helper()

	client := NewClient(zerolog.Nop())
	c := NewCoordinator("c0", "http://c0", true, totalShards, client, zerolog.Nop())
	c.client.http.Timeout = 50 * time.Millisecond // peers in these tests are unreachable fakes

	return c
}

// TestRegistrationAssignsOnePerWorker covers four shards, four workers
// registering in order each getting one shard, and a fifth worker stealing
// one from an existing owner.
func TestRegistrationAssignsOnePerWorker(t *testing.T) {
	c := newTestCoordinator(t, 4)
	ctx := context.Background()

	want := [][]int{{0}, {1}, {2}, {3}}

	for i, w := range []string{"w1", "w2", "w3", "w4"} {
		resp, err := c.HandleRegister(ctx, protocol.WorkerRegistration{ProcessID: w, URL: "http://" + w})
		if err != nil {
			t.Fatalf("register %s: %v", w, err)
		}

		if len(resp.AssignedShards) != 1 || resp.AssignedShards[0] != want[i][0] {
			t.Fatalf("register %s: got %v, want %v", w, resp.AssignedShards, want[i])
		}
	}

	resp, err := c.HandleRegister(ctx, protocol.WorkerRegistration{ProcessID: "w5", URL: "http://w5"})
	if err != nil {
		t.Fatalf("register w5: %v", err)
	}

	if len(resp.AssignedShards) != 1 {
		t.Fatalf("expected w5 to steal exactly one shard, got %v", resp.AssignedShards)
	}

	union := c.registry.AssignedShardsUnion()
	if len(union) != 4 {
		t.Fatalf("expected exactly 4 assigned shards across cluster, got %d", len(union))
	}

	total := 0
	for _, p := range c.registry.Snapshot() {
		total += len(p.AssignedShards)
	}

	if total != 4 {
		t.Fatalf("expected 4 total shard assignments, got %d", total)
	}
}

// TestFailoverRedistributesShards covers a dead worker's shards being
// redistributed across survivors and the succession list staying compact.
func TestFailoverRedistributesShards(t *testing.T) {
	c := newTestCoordinator(t, 4)
	ctx := context.Background()

	for _, w := range []string{"w1", "w2", "w3", "w4"} {
		if _, err := c.HandleRegister(ctx, protocol.WorkerRegistration{ProcessID: w, URL: "http://" + w}); err != nil {
			t.Fatalf("register %s: %v", w, err)
		}
	}

	c.onWorkerDead("w2")

	if c.registry.Get("w2") != nil {
		t.Fatal("expected w2 removed from registry")
	}

	if c.succession.PositionOf("w2") != -1 {
		t.Fatal("expected w2 removed from succession")
	}

	union := c.registry.AssignedShardsUnion()
	if len(union) != 4 {
		t.Fatalf("expected all 4 shards still assigned after failover, got %d", len(union))
	}

	for i, e := range c.succession.Snapshot() {
		if e.Position != i+1 {
			t.Fatalf("succession positions not compact after failover: %+v", c.succession.Snapshot())
		}
	}
}

func TestAssignedShardsNeverDuplicated(t *testing.T) {
	c := newTestCoordinator(t, 3)
	ctx := context.Background()

	for _, w := range []string{"w1", "w2", "w3", "w4", "w5"} {
		if _, err := c.HandleRegister(ctx, protocol.WorkerRegistration{ProcessID: w, URL: "http://" + w}); err != nil {
			t.Fatalf("register %s: %v", w, err)
		}
	}

	seen := make(map[int]bool)
	for _, p := range c.registry.Snapshot() {
		for _, sid := range p.AssignedShards {
			if seen[sid] {
				t.Fatalf("shard %d assigned to more than one worker", sid)
			}

			seen[sid] = true

			if sid < 0 || sid >= c.TotalShards {
				t.Fatalf("shard %d out of range [0,%d)", sid, c.TotalShards)
			}
		}
	}
}

func TestResumeRequestRejectsOriginalCoordinator(t *testing.T) {
	client := NewClient(zerolog.Nop())
	c := NewCoordinator("c0", "http://c0", true, 1, client, zerolog.Nop())

	_, err := c.HandleResumeRequest(protocol.CoordinatorResumptionRequest{OriginalCoordinatorID: "c0"})
	if err != ErrAlreadyOriginal {
		t.Fatalf("expected ErrAlreadyOriginal, got %v", err)
	}
}

func TestResumeRequestHandsOffAndResigns(t *testing.T) {
	client := NewClient(zerolog.Nop())
	c := NewCoordinator("c1", "http://c1", false, 4, client, zerolog.Nop())

	ctx := context.Background()
	if _, err := c.HandleRegister(ctx, protocol.WorkerRegistration{ProcessID: "w1", URL: "http://w1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	handoff, err := c.HandleResumeRequest(protocol.CoordinatorResumptionRequest{
		OriginalCoordinatorID: "c0", OriginalCoordinatorURL: "http://c0",
	})
	if err != nil {
		t.Fatalf("resume request: %v", err)
	}

	if handoff.TotalShards != 4 || len(handoff.Peers) != 1 {
		t.Fatalf("unexpected handoff payload: %+v", handoff)
	}

	if !c.IsResigned() {
		t.Fatal("expected coordinator to be resigned after handoff")
	}

	if _, err := c.HandleRegister(ctx, protocol.WorkerRegistration{ProcessID: "w2", URL: "http://w2"}); err != ErrResigned {
		t.Fatalf("expected ErrResigned after handoff, got %v", err)
	}
}

// TestAttemptResumptionReclaimsCoordinatorRole covers the original
// coordinator calling POST /coordinator/resume on the temporary
// coordinator, loading the handoff, and ending up at succession position 1
// with the temporary coordinator resigned.
func TestAttemptResumptionReclaimsCoordinatorRole(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	tempURL := "http://" + addr

	tempClient := NewClient(zerolog.Nop())
	temp := NewCoordinator("c1", tempURL, false, 4, tempClient, zerolog.Nop())

	server := NewServer(addr, zerolog.Nop())
	temp.RegisterHandlers(server)

	go server.ListenAndServe()
	defer server.Shutdown()

	waitForServer(t, tempURL)

	ctx := context.Background()
	if _, err := temp.HandleRegister(ctx, protocol.WorkerRegistration{ProcessID: "w1", URL: "http://w1"}); err != nil {
		t.Fatalf("register w1: %v", err)
	}

	originalClient := NewClient(zerolog.Nop())
	original := NewCoordinator("c0", "http://c0", true, 1, originalClient, zerolog.Nop())

	if err := original.AttemptResumption(ctx, tempURL); err != nil {
		t.Fatalf("attempt resumption: %v", err)
	}

	if original.TotalShards != 4 {
		t.Fatalf("expected original to adopt total shards 4, got %d", original.TotalShards)
	}

	if pos := original.succession.PositionOf("c0"); pos != 1 {
		t.Fatalf("expected c0 at succession position 1, got %d", pos)
	}

	if !temp.IsResigned() {
		t.Fatal("expected temp coordinator to have resigned after handoff")
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := NewClient(zerolog.Nop())
	client.http.Timeout = 200 * time.Millisecond

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := client.Health(context.Background(), url); err == nil {
			return
		}

		time.Sleep(20 * time.Millisecond)
	}

	t.Fatalf("server at %s never became ready", url)
}
