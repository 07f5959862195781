package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultOpTimeout = 500 * time.Millisecond
	scanBatch        = 200
)

// Redis is the shared-cache Store. Every operation runs under a short
// per-operation timeout so a degraded Redis slows requests by at most that
// bound before the engine falls back to recomputing.
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, opTimeout: defaultOpTimeout}
}

// Auto selects the backend from deployment shape: Redis when an address is
// configured, the in-process store otherwise.
func Auto(redisAddr string) Store {
	if redisAddr == "" {
		log.Debug().Msg("cache: no redis address, using in-process store")
		return NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	log.Debug().Str("addr", redisAddr).Msg("cache: using redis store")
	return NewRedis(client)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// DeleteMatching walks the keyspace with SCAN and deletes matches in
// batches. Pattern deletes run at invalidation time, not on request paths,
// so they use the caller's deadline rather than the per-op timeout.
func (r *Redis) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: scan %s: %v", ErrUnavailable, pattern, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			removed += int(n)
			if err != nil {
				return removed, fmt.Errorf("%w: del batch: %v", ErrUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Ping verifies connectivity, for health reporting.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return nil
}
