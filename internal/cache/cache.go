// Package cache wraps redis/go-redis/v9 behind a narrow interface used by
// the auth and permissions components to avoid a metadata-store round trip
// on every query (SPEC_FULL.md §4.17). Grounded on the teacher's
// redis-adapter package for connection setup and msgpack value encoding
// conventions; the key shapes and TTL policy are this project's own.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/metadata"
)

// Cache is the capability set cache-backed lookups need. A nil-safe
// no-op implementation (NullCache) satisfies it too, so callers never
// branch on whether caching is configured.
type Cache interface {
	GetToken(ctx context.Context, shortToken string) (*metadata.APIToken, bool)
	PutToken(ctx context.Context, token metadata.APIToken)
	InvalidateToken(ctx context.Context, shortToken string)
	GetAccessLevel(ctx context.Context, callerEntityID, databaseID int64) (*metadata.QueryPermissionLevel, bool)
	PutAccessLevel(ctx context.Context, callerEntityID, databaseID int64, level *metadata.QueryPermissionLevel)
}

// getTimeout bounds every cache read so a slow or unreachable Redis never
// adds unbounded latency to the query path (SPEC_FULL.md §5): a cache miss
// is always an acceptable, cheap outcome.
const getTimeout = 50 * time.Millisecond

// RedisCache is the real implementation.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a RedisCache connected to addr, with entries expiring after
// ttl.
func New(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client, ttl: ttl}
}

func tokenKey(shortToken string) string {
	return "ayb:token:" + shortToken
}

func accessLevelKey(callerEntityID, databaseID int64) string {
	buf, _ := msgpack.Marshal([2]int64{callerEntityID, databaseID})
	return "ayb:access:" + string(buf)
}

func (c *RedisCache) GetToken(ctx context.Context, shortToken string) (*metadata.APIToken, bool) {
	ctx, cancel := context.WithTimeout(ctx, getTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, tokenKey(shortToken)).Bytes()
	if err != nil {
		return nil, false
	}

	var token metadata.APIToken
	if err := msgpack.Unmarshal(data, &token); err != nil {
		return nil, false
	}

	return &token, true
}

func (c *RedisCache) PutToken(ctx context.Context, token metadata.APIToken) {
	data, err := msgpack.Marshal(token)
	if err != nil {
		return
	}

	c.client.Set(ctx, tokenKey(token.ShortToken), data, c.ttl)
}

func (c *RedisCache) InvalidateToken(ctx context.Context, shortToken string) {
	c.client.Del(ctx, tokenKey(shortToken))
}

func (c *RedisCache) GetAccessLevel(ctx context.Context, callerEntityID, databaseID int64) (*metadata.QueryPermissionLevel, bool) {
	ctx, cancel := context.WithTimeout(ctx, getTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, accessLevelKey(callerEntityID, databaseID)).Bytes()
	if err != nil {
		return nil, false
	}

	var level metadata.QueryPermissionLevel
	if err := msgpack.Unmarshal(data, &level); err != nil {
		return nil, false
	}

	return &level, true
}

func (c *RedisCache) PutAccessLevel(ctx context.Context, callerEntityID, databaseID int64, level *metadata.QueryPermissionLevel) {
	if level == nil {
		return
	}

	data, err := msgpack.Marshal(*level)
	if err != nil {
		return
	}

	c.client.Set(ctx, accessLevelKey(callerEntityID, databaseID), data, c.ttl)
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	err := c.client.Close()
	if err != nil {
		return common.Wrap(common.KindIO, "closing cache connection", err)
	}

	return nil
}

// NullCache is the no-op implementation used when caching isn't
// configured.
type NullCache struct{}

func (NullCache) GetToken(context.Context, string) (*metadata.APIToken, bool) { return nil, false }
func (NullCache) PutToken(context.Context, metadata.APIToken)                 {}
func (NullCache) InvalidateToken(context.Context, string)                     {}
func (NullCache) GetAccessLevel(context.Context, int64, int64) (*metadata.QueryPermissionLevel, bool) {
	return nil, false
}
func (NullCache) PutAccessLevel(context.Context, int64, int64, *metadata.QueryPermissionLevel) {}
