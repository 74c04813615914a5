package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the in-process cache variant built on go-cache. Entries are
// evicted by the library's janitor; Get additionally re-checks ExpiresAt so
// a stale entry is never served between janitor sweeps.
type MemoryCache struct {
	store *gocache.Cache
	mu    sync.Mutex
}

// NewMemoryCache builds a memory cache whose janitor sweeps every minute.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		store: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Get implements Cache.
func (m *MemoryCache) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	v, found := m.store.Get(key)
	if !found {
		return nil, false
	}
	entry, ok := v.(*CachedResponse)
	if !ok || !entry.ExpiresAt.After(time.Now()) {
		m.store.Delete(key)
		return nil, false
	}

	m.mu.Lock()
	entry.HitCount++
	copied := *entry
	m.mu.Unlock()
	return &copied, true
}

// Set implements Cache. The entry's CreatedAt/ExpiresAt are stamped here so
// callers only choose the TTL.
func (m *MemoryCache) Set(ctx context.Context, key string, entry *CachedResponse, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now()
	entry.CacheKey = key
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)
	m.store.Set(key, entry, ttl)
	return nil
}

// Remove implements Cache.
func (m *MemoryCache) Remove(ctx context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// RemoveByPrefix implements Cache.
func (m *MemoryCache) RemoveByPrefix(ctx context.Context, prefix string) error {
	for key := range m.store.Items() {
		if strings.HasPrefix(key, prefix) {
			m.store.Delete(key)
		}
	}
	return nil
}

// PurgeExpired implements Cache.
func (m *MemoryCache) PurgeExpired(ctx context.Context) error {
	m.store.DeleteExpired()
	return nil
}
