package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// signalPrefix namespaces dedup keys so Clear can scan them without touching
// anything else in the database.
const signalPrefix = "signal:"

// SignalStore implements domain.SignalStore on Redis. SET NX with a TTL gives
// the atomic check-and-set the dedup contract requires: of any number of
// concurrent registrations for one key, Redis admits exactly one.
type SignalStore struct {
	rdb *redis.Client
}

// NewSignalStore creates a SignalStore backed by the given Client.
func NewSignalStore(c *Client) *SignalStore {
	return &SignalStore{rdb: c.rdb}
}

// SetIfAbsent stores entry under key with the given TTL if the key does not
// already exist, returning true when this call created it. Expiry is handled
// natively by Redis.
func (s *SignalStore) SetIfAbsent(ctx context.Context, key string, entry domain.SignalEntry, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("redis: marshal signal entry: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, signalPrefix+key, payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: setnx %s: %w: %v", key, domain.ErrCacheBackend, err)
	}
	return created, nil
}

// Clear removes every dedup entry by scanning the signal namespace. It is an
// operator-facing reset and does not need to be atomic.
func (s *SignalStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, signalPrefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis: scan signals: %w", err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis: delete signals: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
