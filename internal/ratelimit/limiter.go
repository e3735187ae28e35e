package ratelimit

import (
	"sync"
	"time"
)

// Limit is the per-check bucket configuration: refill rate in tokens per
// second and bucket capacity. Callers supply it on every check so quotas
// can be tiered per endpoint or action.
type Limit struct {
	Rate  float64
	Burst float64
}

// bucket is a single token bucket. Refill is proportional to elapsed
// time since the last touch, capped at capacity.
type bucket struct {
	rate       float64
	capacity   float64
	tokens     float64
	updated    time.Time
	lastAccess time.Time
}

func newBucket(lim Limit, now time.Time) *bucket {
	return &bucket{
		rate:       lim.Rate,
		capacity:   lim.Burst,
		tokens:     lim.Burst,
		updated:    now,
		lastAccess: now,
	}
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.updated).Seconds()
	b.updated = now
	b.lastAccess = now

	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Limiter gates actions per identity with two independent bucket
// namespaces: one for live-channel traffic and one for the general
// request surface, so a noisy channel identity cannot starve request
// quota or vice versa. Buckets are ephemeral and in-memory.
type Limiter struct {
	mu       sync.Mutex
	channel  map[string]*bucket
	requests map[string]*bucket
	now      func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		channel:  make(map[string]*bucket),
		requests: make(map[string]*bucket),
		now:      time.Now,
	}
}

// AllowChannel checks the channel-traffic namespace.
func (l *Limiter) AllowChannel(identity string, lim Limit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allow(l.channel, identity, lim)
}

// AllowRequest checks the request-surface namespace.
func (l *Limiter) AllowRequest(identity string, lim Limit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allow(l.requests, identity, lim)
}

// allow lazily creates a bucket for unseen identities, and recreates the
// bucket whenever the configured rate or burst changed since last use.
func (l *Limiter) allow(ns map[string]*bucket, identity string, lim Limit) bool {
	now := l.now()
	b, ok := ns[identity]
	if !ok || b.rate != lim.Rate || b.capacity != lim.Burst {
		b = newBucket(lim, now)
		ns[identity] = b
	}
	return b.allow(now)
}

// Sweep evicts buckets untouched for at least idle, bounding memory.
// Returns the number of buckets removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for _, ns := range []map[string]*bucket{l.channel, l.requests} {
		for k, b := range ns {
			if b.lastAccess.Before(cutoff) {
				delete(ns, k)
				removed++
			}
		}
	}
	return removed
}

// Size returns the total number of live buckets across both namespaces.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.channel) + len(l.requests)
}
