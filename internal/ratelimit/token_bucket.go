// Package ratelimit provides the per-connection message budget applied to
// signaling WebSockets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) read from a
// clockwork.Clock.
//
// Tokens are held as fixed-point nano-tokens (1 token = 1e9), so a rate of X
// tokens/sec adds X nano-tokens per elapsed nanosecond with no float rounding.
type TokenBucket struct {
	mu sync.Mutex

	clock clockwork.Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. A nil clock means the wall clock.
func NewTokenBucket(clock clockwork.Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	capacity = max(capacity, 0)
	rate = max(rate, 0)
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// PerSecond is the bucket used for signaling connections: a burst of n
// messages refilled at n per second. n <= 0 disables limiting and returns nil.
func PerSecond(clock clockwork.Clock, n int) *TokenBucket {
	if n <= 0 {
		return nil
	}
	return NewTokenBucket(clock, int64(n), int64(n))
}

// Allow consumes tokens if available. tokens <= 0 always succeeds, as does
// any call on a nil bucket.
func (b *TokenBucket) Allow(tokens int64) bool {
	if b == nil || tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	full := toNano(b.capacity)
	if b.rate <= 0 || b.available >= full {
		b.available = min(b.available, full)
		return
	}

	// Clamp before multiplying so elapsed*rate cannot overflow.
	need := full - b.available
	if fillIn := need / b.rate; fillIn <= 0 || elapsed >= fillIn {
		b.available = full
		return
	}
	b.available = min(b.available+elapsed*b.rate, full)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
