// Package cache provides TTL-bound memoization for expensive external
// calls. Two backends implement the same Store interface: an in-memory map
// (the default) and Redis for deployments that already run one. Entries are
// never updated in place; a fresh computation always writes a new entry.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL bounds how long a memoized result is served before the
// underlying call is repeated.
const DefaultTTL = 5 * time.Minute

// Store is a byte-payload cache with time-based eviction.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte)
}

type entry struct {
	payload  []byte
	storedAt time.Time
}

// Memory is an in-memory Store. There is no size bound and no background
// sweeper: an entry past its TTL is evicted lazily on the next Get. The
// clock is injectable so expiry tests need no real sleeps.
type Memory struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]entry
}

// NewMemory creates an in-memory cache with the given TTL. A zero ttl uses
// DefaultTTL; a nil clock uses time.Now.
func NewMemory(ttl time.Duration, now func() time.Time) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{ttl: ttl, now: now, m: make(map[string]entry)}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.m, key)
		return nil, false
	}
	return e.payload, true
}

func (c *Memory) Set(_ context.Context, key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry{payload: payload, storedAt: c.now()}
}

// Len reports the number of live entries, counting expired-but-unevicted
// ones. Used by tests and the health endpoint.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
