// Package sigcache deduplicates strategy signals so the same opportunity is
// acted on at most once within a tolerance window. A fast in-process tier
// answers most checks; an optional durable Redis tier makes dedup state
// survive restarts and is shared across concurrent engine instances.
package sigcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// Config holds dedup parameters.
type Config struct {
	Tolerance     float64       // price bucket width
	TolerancePct  bool          // interpret Tolerance as a fraction of price
	TTL           time.Duration // how long a registered key suppresses re-alerts
	SweepInterval time.Duration // periodic purge cadence; 0 disables the sweep
	Disabled      bool          // bypass entirely: every candidate is new
}

type entry struct {
	firstSeen time.Time
	expiresAt time.Time
	refPrice  float64
}

// Cache is the two-tier signal dedup cache. It is safe for concurrent use.
type Cache struct {
	cfg     Config
	durable domain.SignalStore // nil = in-process only
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// New creates a Cache. durable may be nil, in which case dedup state lives
// only in this process.
func New(cfg Config, durable domain.SignalStore, logger *slog.Logger) *Cache {
	return &Cache{
		cfg:     cfg,
		durable: durable,
		logger:  logger.With(slog.String("component", "sigcache")),
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// RegisterIfNew records the candidate's dedup key and reports whether it was
// new. Concurrent callers with the same key observe exactly one true result:
// the in-process tier is a mutex-guarded check-and-set, and the durable tier
// is a single SET NX. When the durable tier is unreachable the cache degrades
// to in-process-only with a warning; it never blocks signal processing.
func (c *Cache) RegisterIfNew(ctx context.Context, cand domain.SignalCandidate) bool {
	if c.cfg.Disabled {
		return true
	}

	key := cand.CacheKey(c.cfg.Tolerance, c.cfg.TolerancePct)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			c.mu.Unlock()
			c.logger.InfoContext(ctx, "duplicate signal suppressed",
				slog.String("key", key),
				slog.Time("first_seen", e.firstSeen),
			)
			return false
		}
		// Expired entry: purge lazily and fall through to re-register.
		delete(c.entries, key)
	}
	c.entries[key] = entry{
		firstSeen: now,
		expiresAt: now.Add(c.cfg.TTL),
		refPrice:  cand.Price,
	}
	c.mu.Unlock()

	if c.durable == nil {
		return true
	}

	created, err := c.durable.SetIfAbsent(ctx, key, domain.SignalEntry{
		FirstSeen: now,
		RefPrice:  cand.Price,
	}, c.cfg.TTL)
	if err != nil {
		c.logger.WarnContext(ctx, "durable cache unavailable, in-process dedup only",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true
	}
	if !created {
		// Another instance registered this key first.
		c.logger.InfoContext(ctx, "duplicate signal suppressed by durable tier",
			slog.String("key", key),
		)
		return false
	}
	return true
}

// Clear wipes both tiers. Operator-triggered; durable-tier failures are
// logged, not fatal.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	if c.durable == nil {
		return
	}
	if err := c.durable.Clear(ctx); err != nil {
		c.logger.WarnContext(ctx, "durable cache clear failed",
			slog.String("error", err.Error()),
		)
	}
}

// Purge removes expired in-process entries. The durable tier expires keys
// natively and needs no sweeping.
func (c *Cache) Purge() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Run sweeps expired entries periodically until ctx is cancelled. It returns
// immediately when no sweep interval is configured.
func (c *Cache) Run(ctx context.Context) {
	if c.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}

// Len returns the number of live in-process entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
