package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long a computed permission set may be
// served without recomputation.
const DefaultCacheTTL = 15 * time.Minute

// ErrCacheMiss is returned by CacheClient.Get when the key is absent.
var ErrCacheMiss = errors.New("authz: cache miss")

// CacheClient is the narrow cache backend contract the engine depends
// on. The client's lifecycle (connect/disconnect) belongs to the
// surrounding application.
type CacheClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// RedisCache adapts a go-redis client to the CacheClient contract.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps the provided Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return value, err
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.client.Keys(ctx, pattern).Result()
}

// userLister is the slice of Store that role-scoped invalidation needs:
// cached entries are keyed by user, so clearing a role requires looking
// up which users currently hold it.
type userLister interface {
	ListUserIDsByRole(ctx context.Context, role Role) ([]int64, error)
}

// PermissionCache stores computed permission results with a TTL.
// Invalidation is synchronous: once a call returns, subsequent gets for
// the affected keys miss.
type PermissionCache struct {
	client  CacheClient
	store   userLister
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewPermissionCache builds a PermissionCache. A zero ttl selects
// DefaultCacheTTL.
func NewPermissionCache(client CacheClient, store userLister, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionCache{client: client, store: store, ttl: ttl, logger: logger, metrics: metrics}
}

// TTL exposes the configured entry lifetime.
func (c *PermissionCache) TTL() time.Duration {
	return c.ttl
}

func computedKey(userID int64, propertyID *int64) string {
	return "authz:perms:" + strconv.FormatInt(userID, 10) + ":" + propertyToken(propertyID)
}

func propertyToken(propertyID *int64) string {
	if propertyID == nil {
		return "global"
	}
	return "p" + strconv.FormatInt(*propertyID, 10)
}

// GetComputed loads a cached computation. ErrCacheMiss on absence.
func (c *PermissionCache) GetComputed(ctx context.Context, userID int64, propertyID *int64) (*ComputedPermissions, error) {
	payload, err := c.client.Get(ctx, computedKey(userID, propertyID))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			c.metrics.CacheMiss()
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("authz: cache get: %w", err)
	}
	var result ComputedPermissions
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		// A corrupt entry behaves like a miss; the next Set overwrites it.
		c.metrics.CacheMiss()
		return nil, ErrCacheMiss
	}
	c.metrics.CacheHit()
	return &result, nil
}

// SetComputed stores a computation under the configured TTL.
func (c *PermissionCache) SetComputed(ctx context.Context, result *ComputedPermissions) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("authz: cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, computedKey(result.UserID, result.PropertyID), string(payload), c.ttl); err != nil {
		return fmt.Errorf("authz: cache set: %w", err)
	}
	return nil
}

// Del removes specific keys.
func (c *PermissionCache) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...)
}

// DelPattern removes every key matching the glob pattern.
func (c *PermissionCache) DelPattern(ctx context.Context, pattern string) error {
	keys, err := c.client.Keys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("authz: cache keys %q: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...)
}

// InvalidateUser drops the user's entries across every property scope.
func (c *PermissionCache) InvalidateUser(ctx context.Context, userID int64) error {
	c.metrics.Invalidation("user")
	return c.DelPattern(ctx, "authz:perms:"+strconv.FormatInt(userID, 10)+":*")
}

// InvalidateRole drops cached entries for every user currently holding
// the role. This is a store lookup, not an indexed cache operation.
func (c *PermissionCache) InvalidateRole(ctx context.Context, role Role) error {
	c.metrics.Invalidation("role")
	if c.store == nil {
		return errors.New("authz: cache has no store for role invalidation")
	}
	userIDs, err := c.store.ListUserIDsByRole(ctx, role)
	if err != nil {
		return fmt.Errorf("authz: list users for role %q: %w", role, err)
	}
	for _, id := range userIDs {
		if err := c.InvalidateUser(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateProperty drops every user's entry scoped to the property.
func (c *PermissionCache) InvalidateProperty(ctx context.Context, propertyID int64) error {
	c.metrics.Invalidation("property")
	return c.DelPattern(ctx, "authz:perms:*:p"+strconv.FormatInt(propertyID, 10))
}

// ClearAll drops every engine-owned cache entry.
func (c *PermissionCache) ClearAll(ctx context.Context) error {
	c.metrics.Invalidation("all")
	return c.DelPattern(ctx, "authz:*")
}
