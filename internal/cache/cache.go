// Package cache provides an in-process read-through cache for directory
// listings. Entries are keyed by the listed directory's absolute path and
// invalidated whenever a mutation touches that directory.
package cache

import (
	"sync"
	"time"
)

// Entry is one cached listing together with the instant it was stored.
type entry struct {
	value    any
	storedAt time.Time
}

// DirCache caches directory listings with a per-entry TTL. The zero value is
// not usable; construct with New. A disabled cache never stores and never
// hits, so callers need no enabled checks of their own.
type DirCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	enabled bool

	now func() time.Time
}

// New returns a cache holding entries for at most ttl. A non-positive ttl
// means entries never expire on their own and are dropped only by
// invalidation.
func New(ttl time.Duration, enabled bool) *DirCache {
	return &DirCache{
		entries: map[string]entry{},
		ttl:     ttl,
		enabled: enabled,
		now:     time.Now,
	}
}

// Get returns the cached listing for dir, if present and fresh.
func (c *DirCache) Get(dir string) (any, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[dir]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, dir)
		return nil, false
	}
	return e.value, true
}

// Put stores the listing for dir.
func (c *DirCache) Put(dir string, v any) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[dir] = entry{value: v, storedAt: c.now()}
}

// Invalidate drops the cached listing for dir. Mutating operations call this
// for every directory whose contents they changed, so readers never observe
// a listing older than the last mutation.
func (c *DirCache) Invalidate(dirs ...string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range dirs {
		delete(c.entries, d)
	}
}

// InvalidatePrefix drops every cached listing at or below dir. Used when a
// whole subtree moves or disappears, since descendant listings embed paths
// that are no longer valid.
func (c *DirCache) InvalidatePrefix(dir string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k == dir || hasPathPrefix(k, dir) {
			delete(c.entries, k)
		}
	}
}

// Purge drops every entry.
func (c *DirCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]entry{}
}

// Len reports the number of stored entries.
func (c *DirCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func hasPathPrefix(path, dir string) bool {
	if len(path) <= len(dir) || path[:len(dir)] != dir {
		return false
	}
	return path[len(dir)] == '/' || path[len(dir)] == '\\' || dir[len(dir)-1] == '/' || dir[len(dir)-1] == '\\'
}
