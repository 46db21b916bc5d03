package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := PerSecond(clk, 5)

	for i := 0; i < 5; i++ {
		if !b.Allow(1) {
			t.Fatalf("frame %d rejected inside initial burst", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty after burst")
	}

	clk.Advance(200 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("expected one token after 200ms at 5/s")
	}
	if b.Allow(1) {
		t.Fatalf("expected only one token to have been refilled")
	}
}

func TestTokenBucket_ClampsToCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 1)

	if !b.Allow(2) {
		t.Fatalf("expected initial tokens")
	}
	clk.Advance(time.Hour)
	if got := b.Tokens(); got != 2 {
		t.Fatalf("Tokens()=%d, want 2", got)
	}
}

func TestTokenBucket_ClockGoingBackwardsDoesNotRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(-10 * time.Second)
	if b.Allow(1) {
		t.Fatalf("expected no refill when time goes backwards")
	}
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill once time moves forward again")
	}
}

func TestTokenBucket_ZeroRateNeverRefills(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 0)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(time.Minute)
	if b.Allow(1) {
		t.Fatalf("expected zero-rate bucket to stay empty")
	}
	if !b.Allow(0) {
		t.Fatalf("Allow(0) must always succeed")
	}
}
