package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/pushline/go-push-delivery/pkg/push"
)

// CacheClient defines the subset of Redis commands the decorator needs.
type CacheClient interface {
	// Get returns the value or an error on a miss.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedRegistry is a decorator that adds read-aside caching to any
// DeviceRegistry. Writes invalidate so an unregister takes effect on the
// very next lookup.
type CachedRegistry struct {
	realRegistry push.DeviceRegistry
	cache        CacheClient
	ttl          time.Duration
}

func NewCachedRegistry(realRegistry push.DeviceRegistry, cache CacheClient, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		realRegistry: realRegistry,
		cache:        cache,
		ttl:          ttl,
	}
}

// --- Read path ---

func (r *CachedRegistry) AddressesForUser(ctx context.Context, userID string) ([]push.Address, error) {
	key := r.cacheKey(userID)

	var cached []push.Address
	if err := r.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := r.realRegistry.AddressesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just keep serving from the source of truth.
	_ = r.cache.Set(ctx, key, fresh, r.ttl)
	return fresh, nil
}

// Token lookups are uncached; they are rare and span users.
func (r *CachedRegistry) AddressesForTokens(ctx context.Context, tokens []string) ([]push.Address, error) {
	return r.realRegistry.AddressesForTokens(ctx, tokens)
}

// --- Write paths (invalidate-on-write) ---

func (r *CachedRegistry) Register(ctx context.Context, userID string, addr push.Address) error {
	if err := r.realRegistry.Register(ctx, userID, addr); err != nil {
		return err
	}
	return r.invalidate(ctx, userID)
}

func (r *CachedRegistry) Unregister(ctx context.Context, userID string, addr push.Address) error {
	if err := r.realRegistry.Unregister(ctx, userID, addr); err != nil {
		return err
	}
	return r.invalidate(ctx, userID)
}

// --- Helpers ---

func (r *CachedRegistry) invalidate(ctx context.Context, userID string) error {
	return r.cache.Del(ctx, r.cacheKey(userID))
}

func (r *CachedRegistry) cacheKey(userID string) string {
	return fmt.Sprintf("push:addrs:%s", userID)
}
