// Package cache implements the fingerprinted response cache with TTL
// eviction. Variants: in-memory, Redis-backed, and a null cache used when
// caching is disabled.
package cache

import (
	"context"
	"time"
)

// CachedResponse is the stored shape of a successful completion.
type CachedResponse struct {
	CacheKey     string         `json:"cacheKey"`
	ProviderName string         `json:"providerName"`
	Model        string         `json:"model"`
	ResponseText string         `json:"responseText"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	TokensUsed   int            `json:"tokensUsed"`
	DurationMs   int64          `json:"durationMs"`
	CreatedAt    time.Time      `json:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	HitCount     int64          `json:"hitCount"`
}

// Cache is the response-cache contract. Get never returns an entry whose
// ExpiresAt is in the past, and increments the entry's hit count on hit.
// Concurrent Sets for one key are last-writer-wins.
type Cache interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool)
	Set(ctx context.Context, key string, entry *CachedResponse, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	RemoveByPrefix(ctx context.Context, prefix string) error
	PurgeExpired(ctx context.Context) error
}

// NullCache always misses and stores nothing. It is the contract the
// orchestrator relies on when caching is disabled.
type NullCache struct{}

// Get implements Cache; it always misses.
func (NullCache) Get(ctx context.Context, key string) (*CachedResponse, bool) { return nil, false }

// Set implements Cache; it stores nothing.
func (NullCache) Set(ctx context.Context, key string, entry *CachedResponse, ttl time.Duration) error {
	return nil
}

// Remove implements Cache.
func (NullCache) Remove(ctx context.Context, key string) error { return nil }

// RemoveByPrefix implements Cache.
func (NullCache) RemoveByPrefix(ctx context.Context, prefix string) error { return nil }

// PurgeExpired implements Cache.
func (NullCache) PurgeExpired(ctx context.Context) error { return nil }
