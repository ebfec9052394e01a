package ratelimiter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(start time.Time) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter()
	now := start
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, _ := newTestLimiter(time.Now())
	defer rl.Stop()
	rl.SetPolicy("trigger", 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("trigger", "user-1"), "request %d", i)
	}
	assert.False(t, rl.Allow("trigger", "user-1"))
	assert.True(t, rl.Allow("trigger", "user-2"), "keys are independent")
}

func TestRateLimiter_MissingPolicyDenies(t *testing.T) {
	rl, _ := newTestLimiter(time.Now())
	defer rl.Stop()
	assert.False(t, rl.Allow("unknown", "user-1"))
}

func TestRateLimiter_DisabledPolicy(t *testing.T) {
	rl, _ := newTestLimiter(time.Now())
	defer rl.Stop()
	rl.SetPolicy("evaluate", 0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("evaluate", "user-1"))
	}
	assert.Equal(t, 0, rl.RetryAfter("evaluate", "user-1"))
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl, now := newTestLimiter(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	defer rl.Stop()
	rl.SetPolicy("trigger", 2, time.Minute)

	assert.True(t, rl.Allow("trigger", "u"))
	*now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("trigger", "u"))
	assert.False(t, rl.Allow("trigger", "u"))
	assert.Equal(t, 31, rl.RetryAfter("trigger", "u"))

	// the first request leaves the window
	*now = now.Add(31 * time.Second)
	assert.Equal(t, 0, rl.RetryAfter("trigger", "u"))
	assert.True(t, rl.Allow("trigger", "u"))
	assert.False(t, rl.Allow("trigger", "u"))
}

func TestRateLimiter_NamespacesIndependent(t *testing.T) {
	rl, _ := newTestLimiter(time.Now())
	defer rl.Stop()
	rl.SetPolicy("a", 1, time.Minute)
	rl.SetPolicy("b", 1, time.Minute)

	assert.True(t, rl.Allow("a", "u"))
	assert.False(t, rl.Allow("a", "u"))
	assert.True(t, rl.Allow("b", "u"))
}

func TestRateLimiter_Reset(t *testing.T) {
	rl, _ := newTestLimiter(time.Now())
	defer rl.Stop()
	rl.SetPolicy("trigger", 1, time.Hour)

	assert.True(t, rl.Allow("trigger", "u"))
	assert.False(t, rl.Allow("trigger", "u"))
	rl.Reset("trigger", "u")
	assert.True(t, rl.Allow("trigger", "u"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, now := newTestLimiter(time.Now())
	defer rl.Stop()
	rl.SetPolicy("trigger", 5, time.Minute)

	rl.Allow("trigger", "old")
	*now = now.Add(2 * time.Minute)
	rl.Allow("trigger", "fresh")

	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.hits, "trigger:old")
	assert.Contains(t, rl.hits, "trigger:fresh")
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter()
	defer rl.Stop()
	rl.SetPolicy("trigger", 50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("trigger", "shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter()
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
