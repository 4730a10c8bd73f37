package webhook

import (
	"testing"
	"time"
)

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(RateLimitConfig{
		Limit:           limit,
		Window:          window,
		CleanupInterval: time.Hour, // won't trigger during test
	})
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterExactBoundary(t *testing.T) {
	rl, _ := newTestLimiter(100, time.Minute)
	defer rl.Stop()

	// Exactly the limit passes.
	for i := 0; i < 100; i++ {
		if ok, _ := rl.Allow("src"); !ok {
			t.Fatalf("request %d rejected, want first 100 allowed", i+1)
		}
	}

	// The 101st is rejected with the window remainder.
	ok, retryAfter := rl.Allow("src")
	if ok {
		t.Fatal("request 101 allowed, want rejected")
	}
	if retryAfter != time.Minute {
		t.Errorf("retryAfter = %v, want full window remaining", retryAfter)
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl, now := newTestLimiter(2, time.Minute)
	defer rl.Stop()

	rl.Allow("src")
	rl.Allow("src")
	if ok, _ := rl.Allow("src"); ok {
		t.Fatal("expected rejection after limit")
	}

	// Mid-window the remainder shrinks.
	*now = now.Add(40 * time.Second)
	if ok, retryAfter := rl.Allow("src"); ok || retryAfter != 20*time.Second {
		t.Errorf("mid-window: allowed=%v retryAfter=%v, want rejected/20s", ok, retryAfter)
	}

	// At the window boundary a fresh window begins.
	*now = now.Add(20 * time.Second)
	if ok, _ := rl.Allow("src"); !ok {
		t.Error("expected fresh window after reset")
	}
}

func TestRateLimiterSeparateSources(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	defer rl.Stop()

	if ok, _ := rl.Allow("src-a"); !ok {
		t.Error("src-a first request rejected")
	}
	if ok, _ := rl.Allow("src-b"); !ok {
		t.Error("src-b first request rejected")
	}
	if ok, _ := rl.Allow("src-a"); ok {
		t.Error("src-a second request allowed")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, now := newTestLimiter(5, time.Minute)
	defer rl.Stop()

	rl.Allow("stale-src")

	// Two windows later the entry is stale.
	*now = now.Add(3 * time.Minute)
	rl.cleanup()

	rl.mu.Lock()
	_, exists := rl.entries["stale-src"]
	rl.mu.Unlock()
	if exists {
		t.Error("expected stale entry to be cleaned up")
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	if cfg.Limit != 100 {
		t.Errorf("Limit = %d, want 100", cfg.Limit)
	}
	if cfg.Window != time.Minute {
		t.Errorf("Window = %v, want 1m", cfg.Window)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
