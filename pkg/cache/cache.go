package cache

import (
	"sync"
	"time"
)

// Cache is an in-process key/value cache with per-entry TTL.
type Cache[V any] interface {
	// Get returns the value and true when present and unexpired
	Get(key string) (V, bool)

	Set(key string, value V, ttl time.Duration)

	// GetOrSet returns the cached value or computes, stores and returns it.
	// Errors from compute are returned and nothing is stored.
	GetOrSet(key string, ttl time.Duration, compute func() (V, error)) (V, error)

	Delete(key string)
	Clear()
	Size() int
	Stop()
}

type entry[V any] struct {
	value      V
	expiration time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiration)
}

// InMemoryCache is a thread-safe bounded cache. When full, the entry closest to expiry is evicted.
type InMemoryCache[V any] struct {
	items           map[string]*entry[V]
	mu              sync.RWMutex
	maxEntries      int
	cleanupInterval time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewInMemoryCache starts a cache holding at most maxEntries items (0 means unbounded)
// and sweeping expired items every cleanupInterval.
func NewInMemoryCache[V any](maxEntries int, cleanupInterval time.Duration) *InMemoryCache[V] {
	c := &InMemoryCache[V]{
		items:           make(map[string]*entry[V]),
		maxEntries:      maxEntries,
		cleanupInterval: cleanupInterval,
		stop:            make(chan struct{}),
		now:             time.Now,
	}
	if cleanupInterval > 0 {
		go c.startCleanup()
	}
	return c
}

func (c *InMemoryCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, found := c.items[key]
	if !found || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *InMemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, ttl)
}

func (c *InMemoryCache[V]) GetOrSet(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another goroutine may have filled it while we waited for the lock
	if e, found := c.items[key]; found && !e.expired(c.now()) {
		return e.value, nil
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.store(key, v, ttl)
	return v, nil
}

// store must be called with the write lock held.
func (c *InMemoryCache[V]) store(key string, value V, ttl time.Duration) {
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evict()
	}
	c.items[key] = &entry[V]{value: value, expiration: c.now().Add(ttl)}
}

func (c *InMemoryCache[V]) evict() {
	now := c.now()
	var victim string
	var earliest time.Time
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
			return
		}
		if victim == "" || e.expiration.Before(earliest) {
			victim, earliest = k, e.expiration
		}
	}
	delete(c.items, victim)
}

func (c *InMemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *InMemoryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V])
}

// Size includes expired items not yet swept.
func (c *InMemoryCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (c *InMemoryCache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *InMemoryCache[V]) startCleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *InMemoryCache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.items {
		if e.expired(now) {
			delete(c.items, key)
		}
	}
}
