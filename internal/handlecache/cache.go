// Package handlecache implements the Handle Cache: a bounded mapping from
// raster path to an open Raster Handle plus its last result slot.
package handlecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/icesat2-dataflow/raster-sampling-core/internal/rasterio"
)

// Entry is a Handle Cache Entry: the handle plus its most recent result
// slot and enable flag, per spec §3's data model.
type Entry struct {
	Handle     *rasterio.Handle
	LastSample *rasterio.Sample
	LastSubset *rasterio.Subset
	Enabled    bool
}

// Cache is the Handle Cache. It wraps a hashicorp/golang-lru/v2 bounded map
// (grounded on the pack's mohammed-shakir-h3-spatial-cache dedupe use of
// lru.Cache[string, uint64]) as the backing store, and layers the spec's
// enable/disable marking and "evict disabled entries first" eviction
// policy on top — golang-lru's own recency-based eviction does not by
// itself implement that rule, so the Cache tracks enablement itself and
// only asks the library to remove specific keys.
//
// A Cache is owned by exactly one request's Sampling Controller at a time
// (spec §5: "Handle Cache is owned by a single request at a time"), so its
// methods are not safe for concurrent use across requests; the mutex below
// only protects against the cache's own background eviction callback.
type Cache struct {
	mu          sync.Mutex
	lru         *lru.Cache[string, *Entry]
	maxSize     int
	constructor func(path string) *rasterio.Handle
}

// backingFactor sizes the underlying golang-lru cache well above maxSize so
// its own recency-based eviction never fires during ordinary operation:
// eviction is driven entirely by EvictDisabled's "disabled entries first"
// rule (spec §4.5), not by which entry golang-lru judges least-recently-used
// — those two policies can disagree about which entry to drop.
const backingFactor = 4

// New returns a Cache bounded at maxSize entries. constructor builds a new
// Raster Handle for a path not already present.
func New(maxSize int, constructor func(path string) *rasterio.Handle) *Cache {
	if maxSize <= 0 {
		maxSize = 256
	}
	c := &Cache{maxSize: maxSize, constructor: constructor}
	backing, _ := lru.NewWithEvict[string, *Entry](maxSize*backingFactor, c.onEvicted)
	c.lru = backing
	return c
}

func (c *Cache) onEvicted(path string, entry *Entry) {
	if entry != nil && entry.Handle != nil {
		entry.Handle.Close()
	}
}

// DisableAll marks every cache entry disabled, the first step of the
// Handle Cache Update described in spec §4.5.
func (c *Cache) DisableAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok {
			e.Enabled = false
		}
	}
}

// Enable marks the entry for path enabled, creating a new Raster Handle
// and inserting it if the path is not already cached.
func (c *Cache) Enable(path string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Get(path); ok {
		e.Enabled = true
		return e
	}

	e := &Entry{Handle: c.constructor(path), Enabled: true}
	c.lru.Add(path, e)
	return e
}

// EvictDisabled removes every currently disabled entry if the cache
// exceeds maxSize, per spec §4.5: "If cache size exceeds MAX_CACHE_SIZE
// after marking, evict all disabled entries."
func (c *Cache) EvictDisabled() {
	c.mu.Lock()
	if c.lru.Len() <= c.maxSize {
		c.mu.Unlock()
		return
	}
	var toRemove []string
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && !e.Enabled {
			toRemove = append(toRemove, key)
		}
	}
	c.mu.Unlock()

	for _, key := range toRemove {
		c.lru.Remove(key) // triggers onEvicted, closing the handle
	}
}

// EnabledCount returns the number of currently enabled entries.
func (c *Cache) EnabledCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.Enabled {
			n++
		}
	}
	return n
}

// Enabled returns every currently enabled entry, keyed by path.
func (c *Cache) Enabled() map[string]*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Entry)
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.Enabled {
			out[key] = e
		}
	}
	return out
}

// Len returns the total number of entries, enabled or disabled.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close releases every handle in the cache. Intended for cache teardown.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
