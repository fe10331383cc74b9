package recurrence

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CacheEntry represents a cached count cut-off
type CacheEntry struct {
	Cutoff     Date
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// CountCache remembers the last counted occurrence of count-terminated rules
// so range resolution does not repeat the forward scan for every date.
// Expired entries are dropped lazily; the cache runs no goroutines.
type CountCache struct {
	entries    map[string]*CacheEntry
	mutex      sync.RWMutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// CacheConfig holds configuration for the count cache
type CacheConfig struct {
	TTL        time.Duration // How long entries stay valid
	MaxEntries int           // Maximum number of entries before eviction
}

// DefaultCacheConfig provides sensible defaults for count caching
var DefaultCacheConfig = CacheConfig{
	TTL:        15 * time.Minute,
	MaxEntries: 1000,
}

// NewCountCache creates a new count cache with the given configuration
func NewCountCache(config CacheConfig) *CountCache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	return &CountCache{
		entries:    make(map[string]*CacheEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        time.Now,
	}
}

// generateCacheKey hashes everything the cut-off depends on.
func (c *CountCache) generateCacheKey(start Date, r Rule, weekStart time.Weekday, n int) string {
	hasher := sha256.New()
	hasher.Write([]byte(start.String()))
	hasher.Write([]byte(strconv.Itoa(int(weekStart))))
	hasher.Write([]byte(strconv.Itoa(n)))
	hasher.Write([]byte(fmt.Sprintf("%T%+v", r, r)))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached cut-off if it exists and hasn't expired
func (c *CountCache) Get(start Date, r Rule, weekStart time.Weekday, n int) (Date, bool) {
	key := c.generateCacheKey(start, r, weekStart, n)
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return Date{}, false
	}
	if now.After(entry.ExpiresAt) {
		delete(c.entries, key)
		return Date{}, false
	}
	entry.AccessedAt = now
	return entry.Cutoff, true
}

// Set stores a cut-off in the cache
func (c *CountCache) Set(start Date, r Rule, weekStart time.Weekday, n int, cutoff Date) {
	key := c.generateCacheKey(start, r, weekStart, n)
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = &CacheEntry{
		Cutoff:     cutoff,
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}

	if len(c.entries) > c.maxEntries {
		c.cleanup(now)
	}
}

// cleanup removes expired entries, then the least recently accessed ones
// until the cache is back under its limit. Caller holds the write lock.
func (c *CountCache) cleanup(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
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
	keyAccessList := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		keyAccessList = append(keyAccessList, keyAccess{key: key, accessedAt: entry.AccessedAt})
	}
	sort.Slice(keyAccessList, func(i, j int) bool {
		return keyAccessList[i].accessedAt.Before(keyAccessList[j].accessedAt)
	})

	entriesToRemove := len(c.entries) - c.maxEntries
	for i := 0; i < entriesToRemove; i++ {
		delete(c.entries, keyAccessList[i].key)
	}
}

// Clear drops every entry.
func (c *CountCache) Clear() {
	c.mutex.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics
func (c *CountCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entryCount := len(c.entries)
	expiredCount := 0
	now := c.now()

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expiredCount++
		}
	}

	return CacheStats{
		TotalEntries:   entryCount,
		ExpiredEntries: expiredCount,
		ActiveEntries:  entryCount - expiredCount,
	}
}

// CacheStats provides information about cache usage
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
