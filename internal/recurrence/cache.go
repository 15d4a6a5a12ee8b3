package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"calplanner/internal/model"
)

// CacheConfig holds configuration for the expansion cache.
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before eviction
	CleanupInterval time.Duration // How often expired entries are swept
}

// DefaultCacheConfig is used for zero fields of a CacheConfig.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

type cacheEntry struct {
	result     ExpandResult
	expiresAt  time.Time
	accessedAt time.Time
}

// CacheStats is a point-in-time view of the cache.
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
	Hits           uint64
	Misses         uint64
}

// Cache memoizes Expand results per (template, range). Expansion is a pure
// function of its inputs, so a hit is always equal to a fresh call.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	hits    uint64
	misses  uint64

	ttl        time.Duration
	maxEntries int

	stopCleanup chan struct{}
	closeOnce   sync.Once

	now func() time.Time
}

// NewCache creates a cache and starts its cleanup goroutine. Call Close to
// stop it.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}

	c := &Cache{
		entries:     make(map[string]*cacheEntry),
		ttl:         cfg.TTL,
		maxEntries:  cfg.MaxEntries,
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

// Expand returns the cached expansion of tpl over the range, computing and
// storing it on a miss.
func (c *Cache) Expand(tpl model.EventTemplate, rangeStart, rangeEnd time.Time) ExpandResult {
	key := cacheKey(tpl, rangeStart, rangeEnd)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			e.accessedAt = now
			c.hits++
			res := copyResult(e.result)
			c.mu.Unlock()
			return res
		}
		delete(c.entries, key)
	}
	c.misses++
	c.mu.Unlock()

	res := Expand(tpl, rangeStart, rangeEnd)

	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		result:     copyResult(res),
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}
	if len(c.entries) > c.maxEntries {
		c.evict(now)
	}
	c.mu.Unlock()

	return res
}

// Invalidate drops every entry. Called after the template list changes so
// stale payload is never served.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	expired := 0
	for _, e := range c.entries {
		if !now.Before(e.expiresAt) {
			expired++
		}
	}
	return CacheStats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ActiveEntries:  len(c.entries) - expired,
		Hits:           c.hits,
		Misses:         c.misses,
	}
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
	c.Invalidate()
}

// evict removes expired entries, then the least recently accessed ones until
// the cache fits. Caller holds c.mu.
func (c *Cache) evict(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	byAccess := make([]keyAccess, 0, len(c.entries))
	for key, e := range c.entries {
		byAccess = append(byAccess, keyAccess{key: key, accessedAt: e.accessedAt})
	}
	sort.Slice(byAccess, func(i, j int) bool {
		return byAccess[i].accessedAt.Before(byAccess[j].accessedAt)
	})
	for i := 0; i < len(byAccess)-c.maxEntries; i++ {
		delete(c.entries, byAccess[i].key)
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evict(c.now())
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// cacheKey hashes the whole template, since payload fields are copied onto
// every occurrence, together with the range bounds.
func cacheKey(tpl model.EventTemplate, rangeStart, rangeEnd time.Time) string {
	h := sha256.New()
	// Marshal only fails for years outside 0..9999; the anchor is hashed
	// separately so such templates still get distinct keys.
	b, _ := json.Marshal(tpl)
	h.Write(b)
	h.Write([]byte(tpl.Date.Format(time.RFC3339Nano)))
	h.Write([]byte(tpl.Date.Location().String()))
	h.Write([]byte(rangeStart.Format(time.RFC3339Nano)))
	h.Write([]byte(rangeEnd.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

func copyResult(r ExpandResult) ExpandResult {
	out := r
	out.Occurrences = make([]model.Occurrence, len(r.Occurrences))
	for i, occ := range r.Occurrences {
		occ.EventTemplate = occ.EventTemplate.Clone()
		out.Occurrences[i] = occ
	}
	return out
}
