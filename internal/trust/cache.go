package trust

import (
	"context"
	"sync"
	"time"
)

// Cache wraps a Builder with a TTL'd snapshot. Replacement is atomic with
// respect to readers: a decision in progress sees either the old snapshot
// or the new one in full, never a partial mix.
type Cache struct {
	builder    *Builder
	root       string
	depth      int
	maxMembers int
	ttl        time.Duration

	buildMu sync.Mutex // serializes rebuilds

	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache creates a cache that builds trust sets for the given root with
// the given bounds, rebuilding when the current snapshot is older than ttl.
func NewCache(builder *Builder, root string, depth, maxMembers int, ttl time.Duration) *Cache {
	return &Cache{
		builder:    builder,
		root:       root,
		depth:      depth,
		maxMembers: maxMembers,
		ttl:        ttl,
	}
}

// Current returns the current snapshot without triggering a rebuild. It is
// nil until the first successful build or Prime.
func (c *Cache) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Prime seeds the cache with a snapshot restored from durable storage, so
// a restart does not force an immediate re-crawl.
func (c *Cache) Prime(snap *Snapshot) {
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

// GetOrRefresh returns the cached snapshot if it is younger than the TTL
// and force is false; otherwise it rebuilds and atomically replaces it.
// While a snapshot is fresh the identical snapshot is returned and the
// fetch path is never invoked.
func (c *Cache) GetOrRefresh(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		if snap := c.fresh(); snap != nil {
			return snap, nil
		}
	}

	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	// Another caller may have rebuilt while we waited.
	if !force {
		if snap := c.fresh(); snap != nil {
			return snap, nil
		}
	}

	snap, err := c.builder.Build(ctx, c.root, c.depth, c.maxMembers)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return snap, nil
}

func (c *Cache) fresh() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap != nil && time.Since(c.snap.ComputedAt) < c.ttl {
		return c.snap
	}
	return nil
}
