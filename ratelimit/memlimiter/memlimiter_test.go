package memlimiter

import (
	"context"
	"testing"

	"github.com/deemkeen/apforge/ratelimit"
)

func TestAllowPermitsUpToBurstThenRejects(t *testing.T) {
	l := New()
	ctx := context.Background()

	for i := 0; i < ratelimit.Max; i++ {
		allowed, err := l.Allow(ctx, "203.0.113.5")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d unexpectedly rejected", i)
		}
	}

	allowed, err := l.Allow(ctx, "203.0.113.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expected request beyond burst to be rejected")
	}
}

func TestAllowTracksPerIPIndependently(t *testing.T) {
	l := New()
	ctx := context.Background()

	for i := 0; i < ratelimit.Max; i++ {
		if allowed, _ := l.Allow(ctx, "198.51.100.9"); !allowed {
			t.Fatalf("ip a: request %d unexpectedly rejected", i)
		}
	}

	allowed, err := l.Allow(ctx, "198.51.100.10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("a fresh IP should not be affected by another IP's exhausted bucket")
	}
}
