// Package cache is a read-through cache for hot catalog reads.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	json   = jsoniter.ConfigCompatibleWithStandardLibrary
	tracer = otel.Tracer("bookmanager/cache")
)

// Loader produces the value for a missed key.
type Loader func(ctx context.Context) (any, error)

// Cache returns encoded values, loading and storing them on a miss.
type Cache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// Noop always loads. Used when no Redis is configured.
type Noop struct{}

func (Noop) GetOrLoad(ctx context.Context, _ string, _ time.Duration, load Loader) ([]byte, error) {
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (Noop) Delete(context.Context, ...string) error { return nil }

// Redis caches in a Redis server and collapses concurrent misses of the same
// key into one load.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	group  singleflight.Group
}

// NewRedis connects to url (redis://...) and pings it.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{rdb: rdb, prefix: prefix}, nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (c *Redis) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, error) {
	key = c.prefix + key
	ctx, span := tracer.Start(ctx, "cache.GetOrLoad", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	result, err, shared := c.group.Do(key, func() (any, error) {
		if val, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			return val, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal cached value: %w", err)
		}
		if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
			span.RecordError(err)
		}
		return b, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("singleflight.shared", shared))
	return result.([]byte), nil
}

func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.rdb.Close()
}
