package webhook

import (
	"log/slog"
	"sync"
	"time"
)

// RateLimitConfig configures per-source fixed-window rate limiting.
type RateLimitConfig struct {
	// Limit is the number of requests allowed per window per source.
	Limit int
	// Window is the fixed window length.
	Window time.Duration
	// CleanupInterval is how often stale entries are removed.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the webhook intake limits: 100 requests
// per 60-second window per source.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:           100,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// windowEntry tracks one source's count within its current window.
type windowEntry struct {
	count   int
	resetAt time.Time
}

// RateLimiter bounds accepted requests per source identifier using a fixed
// window: exactly Limit requests pass within one window, the next is
// rejected with the remaining window time as Retry-After.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	cfg     RateLimitConfig
	stopCh  chan struct{}
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter and starts background cleanup.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		entries: make(map[string]*windowEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow checks whether a request from the given source is allowed. When
// limited, retryAfter is the time until the source's window resets.
func (rl *RateLimiter) Allow(source string) (allowed bool, retryAfter time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[source]
	if !ok || !now.Before(entry.resetAt) {
		rl.entries[source] = &windowEntry{count: 1, resetAt: now.Add(rl.cfg.Window)}
		return true, 0
	}

	entry.count++
	if entry.count > rl.cfg.Limit {
		return false, entry.resetAt.Sub(now)
	}
	return true, 0
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// cleanupLoop periodically removes stale rate limiter entries.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup removes entries whose window expired at least one full window
// ago, so the map does not grow unbounded with one-off sources.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.cfg.Window)
	removed := 0
	for source, entry := range rl.entries {
		if entry.resetAt.Before(cutoff) {
			delete(rl.entries, source)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("rate limiter cleanup", "removed", removed, "remaining", len(rl.entries))
	}
}
