package company

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source is the underlying config lookup wrapped by the cache.
type Source interface {
	Get(ctx context.Context, companyID int64) (SyncConfig, error)
}

// CachedRepository is a read-through TTL cache in front of the config lookup.
// Workers read configs on every dispatch, so a short TTL keeps the store quiet
// while an operator config fix still propagates within the TTL window.
type CachedRepository struct {
	source Source
	client *redis.Client
	ttl    time.Duration
}

// NewCachedRepository wraps source with a redis cache.
func NewCachedRepository(source Source, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRepository{source: source, client: client, ttl: ttl}
}

func cacheKey(companyID int64) string {
	return fmt.Sprintf("sync:config:%d", companyID)
}

// Get returns the cached config, falling back to the source on a miss. Cache
// failures degrade to direct lookups rather than failing the caller.
func (c *CachedRepository) Get(ctx context.Context, companyID int64) (SyncConfig, error) {
	if c.client == nil {
		return c.source.Get(ctx, companyID)
	}
	key := cacheKey(companyID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cfg SyncConfig
		if err := json.Unmarshal(payload, &cfg); err == nil {
			return cfg, nil
		}
	} else if err != redis.Nil {
		return c.source.Get(ctx, companyID)
	}
	cfg, err := c.source.Get(ctx, companyID)
	if err != nil {
		return SyncConfig{}, err
	}
	if raw, err := json.Marshal(cfg); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return cfg, nil
}

// Invalidate drops the cached entry for a company.
func (c *CachedRepository) Invalidate(ctx context.Context, companyID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(companyID)).Err()
}
