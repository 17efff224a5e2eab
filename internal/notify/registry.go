package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// Registry is an in-memory domain.SubscriberRegistry seeded from config at
// startup. It tracks consecutive delivery failures and deactivates a
// subscriber once the threshold is crossed; a later success before the
// threshold resets the count.
type Registry struct {
	threshold int
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*domain.Subscriber
	ids  []string // stable iteration order
}

// NewRegistry creates a Registry holding the given subscribers, all live.
func NewRegistry(subs []domain.Subscriber, threshold int, logger *slog.Logger) *Registry {
	r := &Registry{
		threshold: threshold,
		logger:    logger.With(slog.String("component", "subscribers")),
		subs:      make(map[string]*domain.Subscriber, len(subs)),
	}
	for i := range subs {
		sub := subs[i]
		sub.Live = true
		r.subs[sub.ID] = &sub
		r.ids = append(r.ids, sub.ID)
	}
	return r
}

// Active returns the currently live subscribers.
func (r *Registry) Active(context.Context) ([]domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Subscriber, 0, len(r.ids))
	for _, id := range r.ids {
		if sub := r.subs[id]; sub.Live {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// RecordSuccess resets the subscriber's consecutive-failure count.
func (r *Registry) RecordSuccess(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[id]; ok {
		sub.Failures = 0
	}
}

// RecordFailure bumps the consecutive-failure count and deactivates the
// subscriber once it reaches the threshold, returning true on deactivation.
func (r *Registry) RecordFailure(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || !sub.Live {
		return false
	}
	sub.Failures++
	if sub.Failures < r.threshold {
		return false
	}
	sub.Live = false
	r.logger.WarnContext(ctx, "subscriber deactivated",
		slog.String("id", id),
		slog.Int("consecutive_failures", sub.Failures),
	)
	return true
}

// Compile-time interface check.
var _ domain.SubscriberRegistry = (*Registry)(nil)
