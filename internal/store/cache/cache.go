// Package cache keeps the latest fix of every device in Redis and serves
// LatestByDevice from it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"

	"nuha.dev/tcpgps/internal/fix"
	"nuha.dev/tcpgps/internal/store"
)

const DefaultTTL = 24 * time.Hour

// RedisClient is the subset of go-redis used here.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

type Cache struct {
	client RedisClient
	ttl    time.Duration
}

// New connects to the redis url (redis://host:port/db).
func New(url string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

func NewWithClient(client RedisClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func key(deviceID string) string {
	return "fix:latest:" + deviceID
}

func (c *Cache) Put(ctx context.Context, f fix.Fix) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}
	return c.client.Set(ctx, key(f.DeviceID), data, c.ttl).Err()
}

// Get returns the cached fix or store.ErrNotFound.
func (c *Cache) Get(ctx context.Context, deviceID string) (fix.Fix, error) {
	var f fix.Fix
	data, err := c.client.Get(ctx, key(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return f, store.ErrNotFound
	}
	if err != nil {
		return f, fmt.Errorf("failed to get fix: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to unmarshal fix: %w", err)
	}
	return f, nil
}

func (c *Cache) Forget(ctx context.Context, deviceID string) error {
	return c.client.Del(ctx, key(deviceID)).Err()
}

// LatestStore decorates a FixStore with the cache. Writes refresh the
// cache; LatestByDevice reads through it.
type LatestStore struct {
	store.FixStore
	cache *Cache
	log   log.Logger
}

func Wrap(next store.FixStore, c *Cache) *LatestStore {
	l := &LatestStore{FixStore: next, cache: c}
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "cache").Value()
	return l
}

func (l *LatestStore) put(ctx context.Context, f fix.Fix) {
	if err := l.cache.Put(ctx, f); err != nil {
		l.log.Warn().Err(err).Str("device_id", f.DeviceID).Msg("cache update failed")
	}
}

func (l *LatestStore) Save(ctx context.Context, f fix.Fix) error {
	if err := l.FixStore.Save(ctx, f); err != nil {
		return err
	}
	l.put(ctx, f)
	return nil
}

func (l *LatestStore) SaveBatch(ctx context.Context, fixes []fix.Fix) error {
	if b, ok := l.FixStore.(store.BatchSaver); ok {
		if err := b.SaveBatch(ctx, fixes); err != nil {
			return err
		}
	} else {
		for _, f := range fixes {
			if err := l.FixStore.Save(ctx, f); err != nil {
				return err
			}
		}
	}
	latest := make(map[string]fix.Fix)
	for _, f := range fixes {
		if cur, ok := latest[f.DeviceID]; !ok || !f.ReceivedAt.Before(cur.ReceivedAt) {
			latest[f.DeviceID] = f
		}
	}
	for _, f := range latest {
		l.put(ctx, f)
	}
	return nil
}

func (l *LatestStore) LatestByDevice(ctx context.Context, deviceID string) (fix.Fix, error) {
	f, err := l.cache.Get(ctx, deviceID)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		l.log.Warn().Err(err).Str("device_id", deviceID).Msg("cache read failed")
	}
	f, err = l.FixStore.LatestByDevice(ctx, deviceID)
	if err != nil {
		return f, err
	}
	l.put(ctx, f)
	return f, nil
}
