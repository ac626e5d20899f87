package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHealthMonitorDeclaresDeadAfterStaleness(t *testing.T) {
	r := NewPeerRegistry()

	now := time.Now()
	r.nowFunc = func() time.Time { return now }
	r.Upsert("w1", "http://w1", 0)

	var mu sync.Mutex
	var dead []string

	hm := NewHealthMonitor(r, func(id string) {
		mu.Lock()
		dead = append(dead, id)
		mu.Unlock()
	}, zerolog.Nop())
	hm.interval = 10 * time.Millisecond

	r.nowFunc = func() time.Time { return now.Add(20 * time.Second) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hm.Start(ctx)
	defer hm.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(dead)
		mu.Unlock()

		if n > 0 {
			break
		}

		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(dead) == 0 || dead[0] != "w1" {
		t.Fatalf("expected w1 reported dead, got %v", dead)
	}
}
