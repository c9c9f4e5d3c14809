package adapters

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// CacheTTLs maps request kinds to freshness windows
type CacheTTLs map[Kind]time.Duration

// DefaultCacheTTLs are the freshness windows used when config leaves them unset
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		KindQuote:        60 * time.Second,
		KindHistory:      300 * time.Second,
		KindFundamentals: 300 * time.Second,
		KindEarnings:     3600 * time.Second,
		KindDividends:    3600 * time.Second,
	}
}

type cacheKey struct {
	symbol string
	kind   Kind
}

// CacheEntry is a cached record with its write time. A non-zero TTL overrides the kind TTL.
type CacheEntry struct {
	Value    any
	StoredAt time.Time
	TTL      time.Duration
}

// ProviderCache is a TTL store keyed by (symbol, kind). Entries are never evicted;
// stale ones are ignored on read and overwritten on the next Put.
type ProviderCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]CacheEntry
	ttls    CacheTTLs
	now     func() time.Time
}

// NewProviderCache creates a cache; missing kinds in ttls fall back to the defaults
func NewProviderCache(ttls CacheTTLs) *ProviderCache {
	merged := DefaultCacheTTLs()
	for k, v := range ttls {
		if v > 0 {
			merged[k] = v
		}
	}
	return &ProviderCache{
		entries: make(map[cacheKey]CacheEntry),
		ttls:    merged,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (c *ProviderCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns the cached value when it is younger than its TTL
func (c *ProviderCache) Get(symbol string, kind Kind) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey{symbol, kind}]
	now := c.now()
	ttl := c.ttls[kind]
	c.mu.RUnlock()

	labels := map[string]string{"kind": string(kind)}
	if !ok {
		observ.IncCounter("provider_cache_misses_total", labels)
		return nil, false
	}
	if entry.TTL > 0 {
		ttl = entry.TTL
	}
	if now.Sub(entry.StoredAt) >= ttl {
		observ.IncCounter("provider_cache_misses_total", labels)
		observ.IncCounter("provider_cache_stale_total", labels)
		return nil, false
	}
	observ.IncCounter("provider_cache_hits_total", labels)
	return entry.Value, true
}

// Put overwrites the entry for (symbol, kind)
func (c *ProviderCache) Put(symbol string, kind Kind, value any) {
	c.PutWithTTL(symbol, kind, value, 0)
}

// PutWithTTL stores an entry with its own freshness window
func (c *ProviderCache) PutWithTTL(symbol string, kind Kind, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[cacheKey{symbol, kind}] = CacheEntry{Value: value, StoredAt: c.now(), TTL: ttl}
	size := len(c.entries)
	c.mu.Unlock()

	observ.SetGauge("provider_cache_size", float64(size), nil)
}

// Len returns the number of stored entries, fresh or not
func (c *ProviderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TTL returns the configured window for a kind
func (c *ProviderCache) TTL(kind Kind) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttls[kind]
}
