// Package ratelimit bounds how fast a single signaling connection may push
// frames into the relay.
package ratelimit

import (
	"sync"
	"time"
)

// nanoPerToken is the fixed-point scale: one token is 1e9 nano-tokens, so a
// fill rate of N tokens/sec adds exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket refilled at an integer rate
// (tokens/sec) using the supplied Clock.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. Negative arguments are treated as zero,
// which yields a bucket that never admits anything.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      fillRate,
		available: capacity,
		last:      clock.Now(),
	}
}

// PerSecond is the common shape used for signaling frames: a burst equal to
// one second worth of traffic.
func PerSecond(clock Clock, n int) *TokenBucket {
	return NewTokenBucket(clock, int64(n), int64(n))
}

// Allow consumes tokens if enough are available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

// Tokens reports the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	return b.available / nanoPerToken
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	// A clock that steps backwards only moves the reference point.
	b.last = now
	if elapsed <= 0 || b.rate == 0 || b.available >= b.capacity {
		if b.available > b.capacity {
			b.available = b.capacity
		}
		return
	}

	missing := b.capacity - b.available
	// Clamp before multiplying so elapsed*rate cannot overflow.
	if elapsed.Nanoseconds() >= missing/b.rate {
		b.available = b.capacity
		return
	}
	b.available += elapsed.Nanoseconds() * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
