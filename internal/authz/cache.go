package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "authz:effective:version"

// EffectiveCache memoizes resolved permission sets in Redis. Keys carry a
// global version; any graph mutation bumps the version, which invalidates
// every cached set at once. Coarse, but editing a role's permissions has to
// invalidate every principal holding the role anyway, and inverse lookups
// cost more than a re-resolve.
//
// All methods degrade to pass-through when the cache or its client is nil.
type EffectiveCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEffectiveCache instantiates the cache helper.
func NewEffectiveCache(client *redis.Client, ttl time.Duration) *EffectiveCache {
	return &EffectiveCache{client: client, ttl: ttl}
}

// Fetch loads the cached set for the principal or populates it via loader.
func (c *EffectiveCache) Fetch(ctx context.Context, kind PrincipalKind, principalID int64, loader func(context.Context) ([]Permission, error)) ([]Permission, error) {
	if loader == nil {
		return nil, errors.New("authz: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.buildKey(ctx, kind, principalID)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var perms []Permission
		if err := json.Unmarshal(payload, &perms); err == nil {
			return perms, nil
		}
		// Fall through and rebuild on a corrupt entry.
	} else if err != redis.Nil {
		return nil, err
	}
	perms, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// Bump invalidates all cached effective sets by advancing the version.
func (c *EffectiveCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *EffectiveCache) buildKey(ctx context.Context, kind PrincipalKind, principalID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:effective:%s:%d:%d", kind, principalID, ver), nil
}

func (c *EffectiveCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}
