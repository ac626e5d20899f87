// Package ratelimit implements the REST rate limiter: per-bucket windows
// driven by Discord's response headers, plus a fixed 50 req/s global cap
// and 429 bucket marking. It is a standalone component the REST client
// in internal/restclient composes around rather than embeds; the retries
// themselves live in that client.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// globalWindow is the rolling window the 50 req/s cap resets on.
	globalWindow = time.Second
	globalLimit  = 50
)

// Lease is returned by Acquire. Callers only need to know whether they had
// to wait; the lease itself carries no resources to release.
type Lease struct {
	Waited bool
}

// RateLimiter is the process-wide limiter shared by every outbound REST
// call. One instance should be constructed per bot token.
type RateLimiter struct {
	logger zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*Bucket // keyed by bucket id (or route before aliasing)
	aliases map[string]string  // route -> server-supplied bucket id

	globalMu        sync.Mutex
	globalRemaining int
	globalResetAt   time.Time

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once

	nowFunc func() time.Time
}

// New constructs a RateLimiter and starts its 1 Hz global-window reset
// timer.
func New(logger zerolog.Logger) *RateLimiter {
	rl := &RateLimiter{
		logger:          logger.With().Str("component", "ratelimiter").Logger(),
		buckets:         make(map[string]*Bucket),
		aliases:         make(map[string]string),
		globalRemaining: globalLimit,
		ticker:          time.NewTicker(globalWindow),
		stop:            make(chan struct{}),
		nowFunc:         time.Now,
	}

	go rl.resetLoop()

	return rl
}

// Close stops the global reset timer. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() {
		rl.ticker.Stop()
		close(rl.stop)
	})
}

func (rl *RateLimiter) resetLoop() {
	for {
		select {
		case <-rl.stop:
			return
		case <-rl.ticker.C:
			rl.globalMu.Lock()
			rl.globalRemaining = globalLimit
			rl.globalResetAt = rl.nowFunc().Add(globalWindow)
			rl.globalMu.Unlock()
		}
	}
}

// bucketKey resolves route to its current bucket id, following any alias
// memoized from a prior response.
func (rl *RateLimiter) bucketKey(route string) string {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if alias, ok := rl.aliases[route]; ok {
		return alias
	}

	return route
}

func (rl *RateLimiter) bucketFor(key string) *Bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = newBucket(key)
		rl.buckets[key] = b
	}

	return b
}

// acquireGlobal blocks until a global slot is available, returning whether
// it had to wait.
func (rl *RateLimiter) acquireGlobal(ctx context.Context) (bool, error) {
	waited := false

	for {
		rl.globalMu.Lock()
		if rl.globalRemaining > 0 {
			rl.globalRemaining--
			rl.globalMu.Unlock()

			return waited, nil
		}
		rl.globalMu.Unlock()

		waited = true

		select {
		case <-ctx.Done():
			return waited, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			// Poll rather than waiting for the exact tick boundary; the
			// 1 Hz ticker still governs the authoritative reset, this just
			// avoids every blocked caller waking at once.
		}
	}
}

// Acquire blocks until both the global window and the route's bucket have a
// free slot, decrementing each by one.
func (rl *RateLimiter) Acquire(ctx context.Context, route string) (Lease, error) {
	globalWaited, err := rl.acquireGlobal(ctx)
	if err != nil {
		return Lease{}, err
	}

	key := rl.bucketKey(route)
	b := rl.bucketFor(key)

	bucketWaited := false

	for {
		acquired, wait := b.tryAcquire(rl.nowFunc())
		if acquired {
			break
		}

		bucketWaited = true

		b.mu.Lock()
		b.TotalWaits++
		b.mu.Unlock()

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return Lease{}, ctx.Err()
		case <-timer.C:
		}
	}

	return Lease{Waited: globalWaited || bucketWaited}, nil
}

// ResponseHeaders is the subset of Discord's rate limit headers the limiter
// reads.
type ResponseHeaders struct {
	Bucket    string
	Limit     string
	Remaining string
	Reset     string
	Global    string
}

// UpdateFromResponse applies the X-RateLimit-* headers of a non-429
// response to the bucket route maps to.
func (rl *RateLimiter) UpdateFromResponse(route string, h ResponseHeaders) {
	key := rl.bucketKey(route)

	if h.Bucket != "" && h.Bucket != key {
		rl.mu.Lock()
		rl.aliases[route] = h.Bucket
		rl.mu.Unlock()

		key = h.Bucket
	}

	b := rl.bucketFor(key)

	var (
		limit, remaining          int
		limitSet, remainingSet    bool
		resetAt                   time.Time
		resetSet                  bool
	)

	if h.Limit != "" {
		if n, err := strconv.Atoi(h.Limit); err == nil {
			limit, limitSet = n, true
		}
	}

	if h.Remaining != "" {
		if n, err := strconv.Atoi(h.Remaining); err == nil {
			remaining, remainingSet = n, true
		}
	}

	if h.Reset != "" {
		if f, err := strconv.ParseFloat(h.Reset, 64); err == nil {
			resetAt = time.Unix(0, int64(f*float64(time.Second)))
			resetSet = true
		}
	}

	isGlobal := h.Global == "true"

	b.updateFromHeaders(limit, remaining, resetAt, isGlobal, limitSet, remainingSet, resetSet)
}

// Handle429 parses Retry-After off a 429 response and marks the bucket
// exhausted until then. The caller is responsible for sleeping retryAfter
// and retrying.
func (rl *RateLimiter) Handle429(route string, retryAfterHeader string) (retryAfter time.Duration) {
	key := rl.bucketKey(route)
	b := rl.bucketFor(key)

	retryAfter = parseRetryAfter(retryAfterHeader)
	b.apply429(rl.nowFunc(), retryAfter)

	rl.logger.Warn().Str("route", route).Dur("retry_after", retryAfter).Msg("received 429 from discord")

	return retryAfter
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}

	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds < 0 {
		return time.Second
	}

	return time.Duration(seconds * float64(time.Second))
}

// BucketSnapshot returns a point-in-time copy of a bucket's counters,
// keyed as currently resolved for route, for diagnostics/tests.
func (rl *RateLimiter) BucketSnapshot(route string) Bucket {
	return rl.bucketFor(rl.bucketKey(route)).snapshot()
}
