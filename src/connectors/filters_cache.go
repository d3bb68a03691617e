package connectors

import (
	"sync"
	"time"
)

type filtersEntry struct {
	filters   *SymbolFilters
	fetchedAt time.Time
}

// FiltersCache keeps symbol trading rules for a short TTL so repeated ticks
// on the same symbol do not hammer the exchange-info endpoints.
type FiltersCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]filtersEntry
	now     func() time.Time
}

func NewFiltersCache(ttl time.Duration) *FiltersCache {
	return &FiltersCache{
		ttl:     ttl,
		entries: make(map[string]filtersEntry),
		now:     time.Now,
	}
}

func (c *FiltersCache) Get(exchange, symbol string) (*SymbolFilters, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[exchange+":"+symbol]
	if !ok || c.now().Sub(entry.fetchedAt) > c.ttl {
		return nil, false
	}
	return entry.filters, true
}

func (c *FiltersCache) Put(exchange, symbol string, filters *SymbolFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[exchange+":"+symbol] = filtersEntry{filters: filters, fetchedAt: c.now()}
}

// defaultFiltersCache is shared by every connector in the process so bots on
// the same symbol reuse one exchange-info fetch per TTL window.
var (
	defaultFiltersOnce  sync.Once
	defaultFiltersCache *FiltersCache
)

func sharedFiltersCache() *FiltersCache {
	defaultFiltersOnce.Do(func() {
		defaultFiltersCache = NewFiltersCache(GetConfig().FiltersCacheTTL)
	})
	return defaultFiltersCache
}
