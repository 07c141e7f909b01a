// Package cache provides an in-memory cache with namespaced keys, per-entry
// TTL, tag-based invalidation and LRU eviction. Instances are constructed and
// handed to consumers; there is no package-level cache.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the cache when no limit is configured.
const DefaultMaxEntries = 1024

// Options configures a Cache.
type Options struct {
	// MaxEntries caps the number of live entries; the least recently used
	// entry is evicted at the cap. Zero means DefaultMaxEntries.
	MaxEntries int

	// DefaultTTL applies to entries stored without an explicit TTL.
	// Zero means entries never expire.
	DefaultTTL time.Duration
}

type entry struct {
	ns, key   string
	value     any
	tags      []string
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a bounded in-memory cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
	byTag   map[string]map[string]*entry
	lru     *list.List

	now func() time.Time
}

// New creates a Cache.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		opts:    opts,
		entries: make(map[string]*entry),
		byTag:   make(map[string]map[string]*entry),
		lru:     list.New(),
		now:     time.Now,
	}
}

// EntryOption customizes one stored entry.
type EntryOption func(*entry)

// WithTags attaches invalidation tags to this entry.
func WithTags(tags ...string) EntryOption {
	return func(e *entry) {
		e.tags = append(e.tags, tags...)
	}
}

func cacheKey(ns, key string) string {
	return ns + "\x00" + key
}

// Set stores value under (ns, key), replacing any existing entry.
func (c *Cache) Set(ns, key string, value any, opts ...EntryOption) {
	c.SetTTL(ns, key, value, c.opts.DefaultTTL, opts...)
}

// SetTTL stores value with an explicit TTL. A zero ttl means no expiry.
func (c *Cache) SetTTL(ns, key string, value any, ttl time.Duration, opts ...EntryOption) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := cacheKey(ns, key)
	if old, ok := c.entries[ck]; ok {
		c.removeLocked(old)
	}

	e := &entry{ns: ns, key: key, value: value}
	for _, opt := range opts {
		opt(e)
	}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}

	c.entries[ck] = e
	e.elem = c.lru.PushFront(e)
	for _, tag := range e.tags {
		if c.byTag[tag] == nil {
			c.byTag[tag] = make(map[string]*entry)
		}
		c.byTag[tag][ck] = e
	}

	for len(c.entries) > c.opts.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}
}

// Get returns the live value under (ns, key). Expired entries are removed on
// access and report a miss.
func (c *Cache) Get(ns, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey(ns, key)]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Delete removes the entry under (ns, key) if present.
func (c *Cache) Delete(ns, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey(ns, key)]; ok {
		c.removeLocked(e)
	}
}

// InvalidateTag removes every entry carrying the tag and returns the count.
func (c *Cache) InvalidateTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	tagged := c.byTag[tag]
	n := len(tagged)
	for _, e := range tagged {
		c.removeLocked(e)
	}
	return n
}

// InvalidateNamespace removes every entry in the namespace and returns the
// count.
func (c *Cache) InvalidateNamespace(ns string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		if e.ns == ns {
			c.removeLocked(e)
			n++
		}
	}
	return n
}

// Len returns the number of entries currently held, including any not yet
// evicted expired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.byTag = make(map[string]map[string]*entry)
	c.lru.Init()
}

func (c *Cache) removeLocked(e *entry) {
	ck := cacheKey(e.ns, e.key)
	delete(c.entries, ck)
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	for _, tag := range e.tags {
		if m := c.byTag[tag]; m != nil {
			delete(m, ck)
			if len(m) == 0 {
				delete(c.byTag, tag)
			}
		}
	}
}
