package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	b := NewTokenBucket(clk, 5, 5)

	if !b.Allow(5) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // one token at 5/sec
	if !b.Allow(1) {
		t.Fatalf("expected refill after time advance")
	}
	if b.Allow(1) {
		t.Fatalf("expected exactly one refilled token")
	}
}

func TestTokenBucket_DoesNotExceedCapacity(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestTokenBucket_ZeroRateNeverRefills(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	b := NewTokenBucket(clk, 2, 0)

	if !b.Allow(2) {
		t.Fatalf("expected initial burst")
	}
	clk.Advance(time.Hour)
	if b.Allow(1) {
		t.Fatalf("expected no refill at rate 0")
	}
}

func TestPerSecond(t *testing.T) {
	if b := PerSecond(nil, 0); b != nil {
		t.Fatalf("PerSecond(0)=%v, want nil", b)
	}
	var disabled *TokenBucket
	for i := 0; i < 1000; i++ {
		if !disabled.Allow(1) {
			t.Fatalf("nil bucket rejected message %d", i)
		}
	}

	clk := clockwork.NewFakeClockAt(time.Unix(100, 0))
	b := PerSecond(clk, 3)
	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("message %d rejected within burst", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("fourth message in the same instant allowed")
	}
	clk.Advance(time.Second)
	if !b.Allow(3) {
		t.Fatalf("expected full refill after one second")
	}
}
