// Package cache provides the read-through, tag-invalidated cache sitting in
// front of collaborator reads.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cached collaborator read.
type Key struct {
	Service  string // "records", "accounting"
	Resource string // "clients", "invoices", ...
	Filter   string // canonical filter string, "" for unfiltered reads
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s?%s", k.Service, k.Resource, k.Filter)
}

type entry struct {
	value     any
	expiresAt time.Time
	tags      []string
}

// Cache is a TTL cache shared across all concurrent conversations.
// Reads proceed concurrently against unexpired entries; loads for the same
// key are coalesced so a single collaborator call is in flight per key, and
// tag invalidation removes every entry carrying the tag atomically.
type Cache struct {
	mu         sync.RWMutex
	entries    map[Key]*entry
	byTag      map[string]map[Key]struct{}
	defaultTTL time.Duration
	group      singleflight.Group
	now        func() time.Time

	statsMu sync.Mutex
	hits    int64
	misses  int64
}

// New creates a cache with the given default TTL (5 minutes when <= 0).
func New(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Cache{
		entries:    make(map[Key]*entry),
		byTag:      make(map[string]map[Key]struct{}),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Loader fetches the value from the collaborator on a cache miss.
type Loader func(ctx context.Context) (any, error)

// GetOrLoad returns the cached value for key if present and unexpired,
// otherwise runs the loader, stores its result tagged for invalidation, and
// returns it. The boolean reports whether the value was served from cache.
// Loader errors are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, key Key, tags []string, load Loader) (any, bool, error) {
	if v, ok := c.lookup(key); ok {
		c.recordHit()
		return v, true, nil
	}
	c.recordMiss()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Re-check: another caller may have populated the entry while we
		// waited on the flight group.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, v, tags)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Invalidate removes every entry carrying any of the given tags and returns
// the number of entries removed.
func (c *Cache) Invalidate(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		for key := range c.byTag[tag] {
			if _, ok := c.entries[key]; ok {
				c.removeLocked(key)
				removed++
			}
		}
	}
	if removed > 0 {
		slog.Debug("cache: invalidated by tag", "tags", tags, "removed", removed)
	}
	return removed
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry)
	c.byTag = make(map[string]map[Key]struct{})
}

// Size returns the number of live entries, expired ones included until swept.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.hits, c.misses
}

// SetNowFunc overrides the clock; tests use it to force expiry.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Cache) lookup(key Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a writer may have replaced it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			c.removeLocked(key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key Key, value any, tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}
	c.entries[key] = &entry{
		value:     value,
		expiresAt: c.now().Add(c.defaultTTL),
		tags:      tags,
	}
	for _, tag := range tags {
		set, ok := c.byTag[tag]
		if !ok {
			set = make(map[Key]struct{})
			c.byTag[tag] = set
		}
		set[key] = struct{}{}
	}
}

func (c *Cache) removeLocked(key Key) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, tag := range e.tags {
		if set, ok := c.byTag[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.byTag, tag)
			}
		}
	}
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}
