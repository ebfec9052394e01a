package ratelimiter

import (
	"strings"
	"sync"
	"time"
)

// Policy is the number of requests a key may make per sliding window.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimiter is an in-memory sliding-window limiter partitioned by namespace.
// Namespaces without a policy deny every request.
//
//	rl := ratelimiter.NewRateLimiter()
//	rl.SetPolicy("webhook_trigger", 120, time.Minute)
//	if !rl.Allow("webhook_trigger", userID) { ... }
type RateLimiter struct {
	mu       sync.Mutex
	hits     map[string][]time.Time // "namespace:key" -> request times inside the window
	policies map[string]Policy
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts a limiter and its minute-by-minute cleanup goroutine.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		hits:     make(map[string][]time.Time),
		policies: make(map[string]Policy),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop(time.Minute)
	return rl
}

// SetPolicy configures a namespace. A non-positive maxRequests disables limiting for it.
func (rl *RateLimiter) SetPolicy(namespace string, maxRequests int, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.policies[namespace] = Policy{MaxRequests: maxRequests, Window: window}
}

// Allow records a request for key and reports whether it fits the namespace policy.
func (rl *RateLimiter) Allow(namespace, key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	policy, ok := rl.policies[namespace]
	if !ok {
		return false
	}
	if policy.MaxRequests <= 0 {
		return true
	}

	now := rl.now()
	k := namespace + ":" + key
	recent := prune(rl.hits[k], now.Add(-policy.Window))
	if len(recent) >= policy.MaxRequests {
		rl.hits[k] = recent
		return false
	}
	rl.hits[k] = append(recent, now)
	return true
}

// RetryAfter is the number of seconds until key regains capacity, 0 when it has capacity now.
func (rl *RateLimiter) RetryAfter(namespace, key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	policy, ok := rl.policies[namespace]
	if !ok || policy.MaxRequests <= 0 {
		return 0
	}
	now := rl.now()
	recent := prune(rl.hits[namespace+":"+key], now.Add(-policy.Window))
	if len(recent) < policy.MaxRequests {
		return 0
	}
	remaining := recent[0].Add(policy.Window).Sub(now)
	return int(remaining.Seconds()) + 1
}

// Reset forgets all requests recorded for key.
func (rl *RateLimiter) Reset(namespace, key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.hits, namespace+":"+key)
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// prune keeps the times after cutoff. Times are appended in order so the slice stays sorted.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
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

	now := rl.now()
	for k, times := range rl.hits {
		namespace, _, _ := strings.Cut(k, ":")
		policy, ok := rl.policies[namespace]
		if !ok || len(prune(times, now.Add(-policy.Window))) == 0 {
			delete(rl.hits, k)
		}
	}
}
