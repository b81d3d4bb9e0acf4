// Package statcache implements the short-TTL path->metadata cache used to
// avoid a network round trip on every stat() call.
package statcache

import (
	"sync"
	"time"
)

// Attr is the metadata snapshot stored per path. Kept deliberately small and
// decoupled from the wire fattr3 type in pkg/nfsv3 so the cache doesn't need to
// know about NFS-specific fields.
type Attr struct {
	Size      uint64
	Mode      uint32
	IsDir     bool
	ModTime   time.Time
}

// TTL is how long an entry remains usable after insertion. Normally sourced
// from config.ConnectionConfig.StatTTL via SetTTL; defaults to 1s.
var TTL = 1 * time.Second

// maxEntries bounds the cache's memory growth; beyond this the entire
// map is cleared rather than individually evicted, since the workload's
// path set is small and this keeps the implementation simple.
const maxEntries = 1000

// SetTTL overrides the stat cache's entry lifetime. Intended to be called
// once at startup, before any Cache is used.
func SetTTL(d time.Duration) {
	TTL = d
}

type entry struct {
	attr      Attr
	insertedAt time.Time
}

// Cache is a TTL-bounded path -> Attr map, guarded by its own mutex
// (intentionally separate from the connection pool's mutex, per the
// concurrency model: cache, pool and stat-cache locks are never nested).
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New returns an empty stat cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Get returns the cached attributes for path and true if they are present
// and not yet expired.
func (c *Cache) Get(path string) (Attr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		return Attr{}, false
	}
	if time.Since(e.insertedAt) >= TTL {
		delete(c.entries, path)
		return Attr{}, false
	}
	return e.attr, true
}

// Put inserts/replaces the cached attributes for path, bulk-clearing the
// whole cache first if it has grown past maxEntries.
func (c *Cache) Put(path string, attr Attr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > maxEntries {
		c.entries = make(map[string]entry)
	}
	c.entries[path] = entry{attr: attr, insertedAt: time.Now()}
}

// Invalidate drops a single cached entry, if present, so a successful write
// (which already invalidates the affected blocks in the block cache) doesn't
// leave stale size/mtime behind for the remainder of the TTL window.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
