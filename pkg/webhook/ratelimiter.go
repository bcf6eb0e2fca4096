package webhook

import (
	"sync"
	"time"
)

// ipWindow tracks recent request times for a single client IP.
type ipWindow struct {
	requests []time.Time
}

// RateLimiter enforces a per-IP sliding window limit. Twilio retries
// aggressively on non-2xx responses, so the limit should stay well above the
// expected message rate for a single shop number.
type RateLimiter struct {
	mu              sync.Mutex
	windows         map[string]*ipWindow
	maxPerWindow    int
	window          time.Duration
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a limiter allowing maxPerMinute requests per IP.
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		windows:         make(map[string]*ipWindow),
		maxPerWindow:    maxPerMinute,
		window:          time.Minute,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from ip is within the limit, recording the
// request if it is.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.windows[ip]
	if !ok {
		w = &ipWindow{}
		rl.windows[ip] = w
	}
	w.prune(now, rl.window)

	if len(w.requests) >= rl.maxPerWindow {
		return false
	}
	w.requests = append(w.requests, now)
	return true
}

// RetryAfter returns the whole seconds until the oldest request inside the
// window expires, rounded up. Returns 0 when the IP is not rate limited.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[ip]
	if !ok || len(w.requests) == 0 {
		return 0
	}

	remaining := rl.window - time.Since(w.requests[0])
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

func (w *ipWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	keep := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.requests = keep
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, w := range rl.windows {
		w.prune(now, rl.window)
		if len(w.requests) == 0 {
			delete(rl.windows, ip)
		}
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
