package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter() *RateLimiter {
	return New(zerolog.Nop())
}

// TestGlobalWindow covers scenario S2: 50 immediate acquires, the 51st
// blocks until the next 1 Hz tick, completing within [950ms, 1100ms] of the
// first acquire.
func TestGlobalWindow(t *testing.T) {
	rl := newTestLimiter()
	defer rl.Close()

	ctx := context.Background()
	start := time.Now()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		route := "route-" + string(rune('a'+i%26))

		wg.Add(1)

		go func(route string) {
			defer wg.Done()

			if _, err := rl.Acquire(ctx, route); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(route)
	}

	wg.Wait()

	elapsed := time.Since(start)
	if elapsed > 200*time.Millisecond {
		t.Fatalf("50 acquires should be immediate, took %v", elapsed)
	}

	lease, err := rl.Acquire(ctx, "route-blocker")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total := time.Since(start)

	if !lease.Waited {
		t.Error("51st acquire should report it waited")
	}

	if total < 900*time.Millisecond || total > 1300*time.Millisecond {
		t.Errorf("51st acquire completed in %v, want roughly [950ms, 1100ms]", total)
	}
}

// TestBucket429 covers scenario S3: a 429 with Retry-After: 0.5 must block
// a subsequent acquire on the same route for at least 500ms.
func TestBucket429(t *testing.T) {
	rl := newTestLimiter()
	defer rl.Close()

	ctx := context.Background()
	route := "/channels/123/messages"

	if _, err := rl.Acquire(ctx, route); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rl.UpdateFromResponse(route, ResponseHeaders{Bucket: "abc"})

	wait := rl.Handle429(route, "0.5")
	if wait < 500*time.Millisecond {
		t.Fatalf("Handle429 returned wait %v, want >= 500ms", wait)
	}

	start := time.Now()

	if _, err := rl.Acquire(ctx, route); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	elapsed := time.Since(start)
	if elapsed < 500*time.Millisecond {
		t.Errorf("second acquire after 429 returned after %v, want >= 500ms", elapsed)
	}
}

func TestBucketInvariant(t *testing.T) {
	rl := newTestLimiter()
	defer rl.Close()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := rl.Acquire(ctx, "/guilds/1/channels"); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}

	snap := rl.BucketSnapshot("/guilds/1/channels")
	if snap.Remaining < 0 {
		t.Errorf("remaining went negative: %d", snap.Remaining)
	}

	if snap.Remaining > snap.Limit {
		t.Errorf("remaining %d exceeds limit %d", snap.Remaining, snap.Limit)
	}
}

func TestAliasMemoization(t *testing.T) {
	rl := newTestLimiter()
	defer rl.Close()

	route := "/channels/42/messages"
	rl.UpdateFromResponse(route, ResponseHeaders{Bucket: "shared-bucket", Limit: "5", Remaining: "4"})

	if got := rl.bucketKey(route); got != "shared-bucket" {
		t.Errorf("bucketKey(%q) = %q, want shared-bucket", route, got)
	}
}
