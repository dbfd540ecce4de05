package engine

import (
	"sync"
	"time"
)

// HeaderCache holds response headers per tab for a bounded time. Headers are
// observed once, at response time, while rule evaluation happens later when
// the snapshot arrives; this cache bridges the two without any global lock on
// the analysis path.
type HeaderCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]headerEntry
}

type headerEntry struct {
	headers   map[string]string
	expiresAt time.Time
}

// NewHeaderCache returns a cache whose entries expire after ttl.
func NewHeaderCache(ttl time.Duration) *HeaderCache {
	return &HeaderCache{ttl: ttl, entries: make(map[string]headerEntry)}
}

// Put stores the response headers observed for a tab.
func (c *HeaderCache) Put(tabID string, headers map[string]string) {
	if tabID == "" || len(headers) == 0 {
		return
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	c.mu.Lock()
	c.purgeLocked()
	c.entries[tabID] = headerEntry{headers: copied, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Get returns the cached headers for a tab, if still fresh.
func (c *HeaderCache) Get(tabID string) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[tabID]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, tabID)
		return nil, false
	}
	return entry.headers, true
}

// EvictTab removes the entry for a closed tab.
func (c *HeaderCache) EvictTab(tabID string) {
	c.mu.Lock()
	delete(c.entries, tabID)
	c.mu.Unlock()
}

// Len reports the number of live entries.
func (c *HeaderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()
	return len(c.entries)
}

func (c *HeaderCache) purgeLocked() {
	now := time.Now()
	for tab, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, tab)
		}
	}
}
