package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single rate-limit equivalence class, keyed either by the
// server-supplied X-RateLimit-Bucket header or, before the first response
// is seen, by the route string itself.
type Bucket struct {
	mu sync.Mutex

	// Name is a human label for log correlation only; it carries no
	// routing behavior.
	Name string

	Limit     int
	Remaining int
	ResetAt   time.Time
	IsGlobal  bool

	TotalRequests int64
	TotalWaits    int64
	Total429s     int64
}

// newBucket creates a bucket optimistic about its first request: remaining
// starts permissive until the server says otherwise.
func newBucket(name string) *Bucket {
	return &Bucket{
		Name:      name,
		Limit:     1,
		Remaining: 1,
	}
}

// tryAcquire attempts to take one slot without blocking. It reports whether
// the slot was taken and, if not, how long the caller should wait before
// retrying.
func (b *Bucket) tryAcquire(now time.Time) (acquired bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Remaining <= 0 {
		if now.Before(b.ResetAt) {
			return false, b.ResetAt.Sub(now)
		}

		// The reset deadline has passed but the server hasn't told us a new
		// remaining count yet; assume the bucket refilled to its last known
		// limit so the process doesn't wedge forever.
		b.Remaining = b.Limit
		if b.Remaining <= 0 {
			b.Remaining = 1
		}
	}

	b.Remaining--
	b.TotalRequests++

	return true, 0
}

// updateFromHeaders applies X-RateLimit-* response headers.
func (b *Bucket) updateFromHeaders(limit, remaining int, resetAt time.Time, isGlobal bool, limitSet, remainingSet, resetSet bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limitSet {
		b.Limit = limit
	}

	if remainingSet {
		b.Remaining = remaining
	}

	if resetSet {
		b.ResetAt = resetAt
	}

	if isGlobal {
		b.IsGlobal = true
	}
}

// apply429 records a rate-limit rejection and sets the bucket to block
// until now+retryAfter.
func (b *Bucket) apply429(now time.Time, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Remaining = 0
	b.ResetAt = now.Add(retryAfter)
	b.Total429s++
}

// snapshot returns a value copy for diagnostics, so 0 <= remaining <= limit
// is checkable from outside the lock.
func (b *Bucket) snapshot() Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *b
	cp.mu = sync.Mutex{}

	return cp
}
