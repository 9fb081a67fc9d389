package provider

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache keeps embedding providers warm across daemon requests, keyed by
// (resolved-model-path, resolved-cache-dir) per spec.md §4.7: "First use
// triggers model load; subsequent calls reuse the same provider." It is
// a real bounded LRU rather than a single global pointer, so the
// per-process-singleton re-architecture note in spec.md §9 has a
// concrete, inspectable home (github.com/hashicorp/golang-lru/v2, also
// used elsewhere in the pack for this kind of bounded cache — see
// SPEC_FULL.md §B).
//
// Counters are exported for the daemon's ping response
// (providerCacheSize, providerCreateCount); spec.md §8 scenario 6 relies
// on them to prove single-load-under-storm.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, Provider]
	creates int
}

// NewCache builds a provider cache holding at most capacity entries.
// One entry per process is the common case; capacity exists to bound
// memory if a process ever serves more than one (model, cacheDir) pair.
func NewCache(capacity int) (*Cache, error) {
	if capacity < 1 {
		capacity = 1
	}
	c, err := lru.New[string, Provider](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// GetOrCreate returns the cached provider for key, creating one via
// create() on a cache miss. create is called at most once per key even
// under concurrent callers.
func (c *Cache) GetOrCreate(key string, create func() (Provider, error)) (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.lru.Get(key); ok {
		return p, nil
	}
	p, err := create()
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, p)
	c.creates++
	return p, nil
}

// Size returns the number of cached providers.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CreateCount returns how many times create() has actually run.
func (c *Cache) CreateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates
}
