package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewFixedWindow(2, time.Hour, func() time.Time { return now })

	for i := range 2 {
		if ok, _, _ := limiter.Allow(ctx, "10.0.0.1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, retry, _ := limiter.Allow(ctx, "10.0.0.1"); ok || retry != time.Hour {
		t.Fatalf("expected third request limited for 1h, got ok=%v retry=%s", ok, retry)
	}
	if ok, _, _ := limiter.Allow(ctx, "10.0.0.2"); !ok {
		t.Fatalf("other addresses keep their own budget")
	}

	now = now.Add(45 * time.Minute)
	if _, retry, _ := limiter.Allow(ctx, "10.0.0.1"); retry != 15*time.Minute {
		t.Fatalf("expected retry after 15m, got %s", retry)
	}

	now = now.Add(15 * time.Minute)
	if ok, _, _ := limiter.Allow(ctx, "10.0.0.1"); !ok {
		t.Fatalf("window should have reset")
	}
	if len(limiter.windows) != 1 {
		t.Fatalf("expected expired windows pruned, got %d", len(limiter.windows))
	}
}

func TestFixedWindowBlankKeySharesAnonymousBudget(t *testing.T) {
	limiter := NewFixedWindow(1, time.Minute, nil)
	ctx := context.Background()
	if ok, _, _ := limiter.Allow(ctx, ""); !ok {
		t.Fatalf("first anonymous request should pass")
	}
	if ok, _, _ := limiter.Allow(ctx, "  "); ok {
		t.Fatalf("blank keys should share the anonymous budget")
	}
}

func TestDisabledLimitersAllowEverything(t *testing.T) {
	if NewFixedWindow(0, time.Hour, nil) != nil || NewFixedWindow(5, 0, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit or window")
	}
	if NewRedis(nil, "quotes", 10, time.Hour) != nil {
		t.Fatalf("expected nil redis limiter without a client")
	}

	var fw *FixedWindow
	var rl *Redis
	for _, l := range []Limiter{fw, rl} {
		if ok, _, err := l.Allow(context.Background(), "k"); !ok || err != nil {
			t.Fatalf("nil limiter should allow, got ok=%v err=%v", ok, err)
		}
	}
}
