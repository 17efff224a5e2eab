package domain

import (
	"context"
	"time"
)

// SignalEntry is the value stored in the durable dedup tier for one key.
type SignalEntry struct {
	FirstSeen time.Time `json:"first_seen"`
	RefPrice  float64   `json:"ref_price"`
}

// SignalStore is the durable key/value tier behind the signal cache. Keys
// carry a native per-entry TTL; an absent or expired key means "not a
// duplicate". SetIfAbsent must be an atomic conditional write so that
// concurrent callers (including other process instances) resolve exactly one
// first registration.
type SignalStore interface {
	// SetIfAbsent stores entry under key with the given TTL if the key does
	// not already exist. It returns true when this call created the entry.
	SetIfAbsent(ctx context.Context, key string, entry SignalEntry, ttl time.Duration) (bool, error)

	// Clear removes every dedup entry. Used for operator-triggered resets.
	Clear(ctx context.Context) error
}
