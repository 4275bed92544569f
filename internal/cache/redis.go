package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"unmgate.org/internal/obs"
)

// Redis caches entries in a shared Redis instance so decision and nonce
// state survives restarts and is visible to every replica.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		DB:       opts.RedisDB,
		Password: opts.RedisPassword,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: client, defaultTTL: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil and transport failures both degrade to a miss.
		if !errors.Is(err, redis.Nil) {
			obs.Logger().Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		r.misses.Add(1)
		obs.RecordCacheLookup("redis", false)
		return nil, false
	}
	r.hits.Add(1)
	obs.RecordCacheLookup("redis", true)
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		obs.Logger().Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		obs.Logger().Warn("redis del failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Has(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (r *Redis) ClearPrefix(ctx context.Context, prefix string) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			obs.Logger().Warn("redis del failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		obs.Logger().Warn("redis scan failed", zap.String("key", prefix), zap.Error(err))
	}
}

// Clear flushes the selected database, not just this service's keys. Only
// safe when the database is dedicated to this process.
func (r *Redis) Clear(ctx context.Context) {
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		obs.Logger().Warn("redis flushdb failed", zap.Error(err))
	}
}

// Stats reports client-side hit and miss counters. Size and evictions are
// owned by the server and not surfaced here.
func (r *Redis) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

func (r *Redis) Close() error { return r.client.Close() }

var _ Cache = (*Redis)(nil)
