// Package cache implements a namespaced, per-namespace TTL+LRU cache
// (spec §4.8), wrapping hashicorp/golang-lru/v2 for the eviction
// mechanics and adding lazy TTL expiry on top, the way the pack's
// standardbeagle lru_cache.go wraps container/list but with an
// off-the-shelf LRU instead of hand-rolling the list bookkeeping.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Policy is a per-namespace eviction/expiry policy (spec §3 CachePolicy).
type Policy struct {
	TTL        time.Duration
	MaxEntries int
}

type entry struct {
	value    any
	storedAt time.Time
}

// NamespaceStats tracks hits/misses/evictions/entries for one namespace.
type NamespaceStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

type namespace struct {
	mu     sync.Mutex
	policy Policy
	lru    *lru.Cache[string, entry]
	stats  NamespaceStats
}

// Cache is the process-local, namespaced store. It is never shared across
// processes (spec §3 ownership note).
type Cache struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	defaultTTL time.Duration
	defaultMax int
}

// New builds a Cache using defaultTTL/defaultMax for any namespace that
// hasn't been explicitly configured via SetPolicy.
func New(defaultTTL time.Duration, defaultMax int) *Cache {
	return &Cache{
		namespaces: make(map[string]*namespace),
		defaultTTL: defaultTTL,
		defaultMax: defaultMax,
	}
}

// SetPolicy configures the TTL/max-entries policy for a namespace. Must be
// called before the namespace is first used, or it is a no-op.
func (c *Cache) SetPolicy(ns string, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.namespaces[ns]; ok {
		return
	}
	c.namespaces[ns] = c.newNamespace(p)
}

func (c *Cache) newNamespace(p Policy) *namespace {
	max := p.MaxEntries
	if max <= 0 {
		max = 1
	}
	l, _ := lru.New[string, entry](max)
	return &namespace{policy: p, lru: l}
}

func (c *Cache) namespaceFor(ns string) *namespace {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.namespaces[ns]; ok {
		return n
	}
	n := c.newNamespace(Policy{TTL: c.defaultTTL, MaxEntries: c.defaultMax})
	c.namespaces[ns] = n
	return n
}

// Get returns the cached value for (ns, key), or (nil, false) on miss —
// including a lazy-expired entry (age >= TTL), per spec §4.8.
func (c *Cache) Get(ns, key string) (any, bool) {
	n := c.namespaceFor(ns)
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.lru.Get(key)
	if !ok {
		n.stats.Misses++
		return nil, false
	}
	if n.policy.TTL > 0 && time.Since(e.storedAt) >= n.policy.TTL {
		n.lru.Remove(key)
		n.stats.Misses++
		return nil, false
	}
	n.stats.Hits++
	return e.value, true
}

// Put stores value under (ns, key), evicting the least-recently-used
// entry in ns if it is at capacity. Only this capacity-triggered eviction
// counts toward NamespaceStats.Evictions — Invalidate/ClearAll remove
// entries deliberately, not by eviction.
func (c *Cache) Put(ns, key string, value any) {
	n := c.namespaceFor(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	if evicted := n.lru.Add(key, entry{value: value, storedAt: time.Now()}); evicted {
		n.stats.Evictions++
	}
}

// Invalidate drops every entry in ns (no args beyond ns) or, with key
// non-empty, just that one key.
func (c *Cache) Invalidate(ns string, key ...string) {
	n := c.namespaceFor(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(key) == 0 {
		n.lru.Purge()
		return
	}
	n.lru.Remove(key[0])
}

// ClearAll drops every namespace's contents.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	namespaces := make([]*namespace, 0, len(c.namespaces))
	for _, n := range c.namespaces {
		namespaces = append(namespaces, n)
	}
	c.mu.Unlock()
	for _, n := range namespaces {
		n.mu.Lock()
		n.lru.Purge()
		n.mu.Unlock()
	}
}

// Stats returns a snapshot of every namespace's counters.
func (c *Cache) Stats() map[string]NamespaceStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]NamespaceStats, len(c.namespaces))
	for name, n := range c.namespaces {
		n.mu.Lock()
		s := n.stats
		s.Entries = n.lru.Len()
		n.mu.Unlock()
		out[name] = s
	}
	return out
}
