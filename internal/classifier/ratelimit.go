// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classifier

import "sync"

// RateBucket approximates the per-rule token bucket of spec.md §4.1
// step 7 with "a counter + timestamp reset per second" — the coarse
// bucket spec.md §9's Open Question settles on: burst equals
// rate_limit, refilled once per wall-clock second.
type RateBucket struct {
	mu          sync.Mutex
	epochSecond uint64
	remaining   uint32
}

// Allow reports whether a packet arriving at epoch second `now` may
// pass the bucket for a rule whose rate limit is `limit` pkt/s. limit
// of 0 means unlimited and always allows.
func (b *RateBucket) Allow(now uint64, limit uint32) bool {
	if limit == 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if now != b.epochSecond {
		b.epochSecond = now
		b.remaining = limit
	}
	if b.remaining == 0 {
		return false
	}
	b.remaining--
	return true
}

// RateLimiter tracks one RateBucket per rule label.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*RateBucket
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*RateBucket)}
}

// Allow checks (creating on first use) the bucket for the given rule label.
func (rl *RateLimiter) Allow(label string, now uint64, limit uint32) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[label]
	if !ok {
		b = &RateBucket{}
		rl.buckets[label] = b
	}
	rl.mu.Unlock()

	return b.Allow(now, limit)
}

// Forget drops the bucket for a rule that no longer exists, so a
// future rule reusing the same label starts with a fresh bucket.
func (rl *RateLimiter) Forget(label string) {
	rl.mu.Lock()
	delete(rl.buckets, label)
	rl.mu.Unlock()
}
