package chat

import (
	"path"
	"strings"
	"time"

	"github.com/novuscode/novuscode-api/internal/metrics"
	"github.com/novuscode/novuscode-api/lru"
)

// ContextURL returns the address of the codebase context file stored next
// to the artifact at artifactURL. URLs already naming the context file are
// returned unchanged.
func ContextURL(artifactURL string) string {
	u := strings.TrimSpace(artifactURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if path.Base(u) == ContextFileName {
		return u
	}
	i := strings.LastIndex(u, "/")
	if i < 0 {
		return ContextFileName
	}
	return u[:i+1] + ContextFileName
}

// ContextCache keeps recently fetched codebase context documents keyed by
// URL. A nil *ContextCache caches nothing.
type ContextCache struct {
	cache   *lru.Cache[string, string]
	metrics *metrics.Metrics
}

// NewContextCache creates a cache of size entries that expire after ttl.
func NewContextCache(size int, ttl time.Duration, m *metrics.Metrics) *ContextCache {
	if size < 1 {
		size = 1
	}
	c := &ContextCache{
		cache:   lru.New[string, string](size, lru.WithTTL[string, string](ttl)),
		metrics: m,
	}
	m.WatchContextCache(func() metrics.CacheStats {
		s := c.Stats()
		return metrics.CacheStats{Entries: c.cache.Len(), Evictions: s.Evictions, Expirations: s.Expirations}
	})
	return c
}

func (c *ContextCache) Get(url string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.cache.Get(url)
	c.metrics.RecordCacheLookup(ok)
	return v, ok
}

func (c *ContextCache) Put(url, content string) {
	if c == nil {
		return
	}
	c.cache.Put(url, content)
}

// InvalidatePrefix drops every entry whose URL starts with prefix and
// returns how many were dropped.
func (c *ContextCache) InvalidatePrefix(prefix string) int {
	if c == nil {
		return 0
	}
	return c.cache.DeleteFunc(func(url string) bool {
		return strings.HasPrefix(url, prefix)
	})
}

// Stats returns the cache counters.
func (c *ContextCache) Stats() lru.Metrics {
	if c == nil {
		return lru.Metrics{}
	}
	return c.cache.Metrics()
}
