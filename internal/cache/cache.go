// Package cache provides the shared key/value store the valuation engine
// memoizes prices, valuations and performance series into. Two backends
// implement the same contract: an in-process map for single-node deploys and
// Redis for shared deploys. Callers must behave identically on either.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable tags backend failures (connection refused, timeouts). The
// engine treats any ErrUnavailable read as a miss and recomputes; it never
// surfaces cache failures to callers.
var ErrUnavailable = errors.New("cache unavailable")

// Store is the cache contract. Get reports a miss with ok=false and a nil
// error; an expired entry is a miss whether or not the backend already
// removed it physically.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteMatching removes every key matching a glob pattern
	// (e.g. "perfseries:42:*") and returns the number removed.
	DeleteMatching(ctx context.Context, pattern string) (int, error)
}

// GetJSON reads and decodes a JSON entry into dst. Misses and backend
// failures return ok=false; a corrupt entry returns an error so the caller's
// degrade-to-miss branch can log it.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key with the given TTL.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.Set(ctx, key, b, ttl)
}
