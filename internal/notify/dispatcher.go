// Package notify fans confirmed new signals out to subscriber endpoints.
// Each target is attempted independently with its own timeout and retry
// budget; one failing or slow target never delays delivery to the others.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// SenderFactory builds the concrete Sender for one subscriber. It returns
// nil for channels it does not know how to reach.
type SenderFactory func(sub domain.Subscriber) Sender

// Config holds per-target delivery parameters.
type Config struct {
	TargetTimeout time.Duration // total budget per target per broadcast
	MaxAttempts   int           // send attempts per target
	RetryBackoff  time.Duration // initial backoff between attempts
}

// Result is the delivery outcome for one target.
type Result struct {
	TargetID string
	Attempts int
	Err      error // nil on success
	Removed  bool  // target crossed the registry's failure threshold
}

// Dispatcher broadcasts to all active subscribers concurrently. Delivery is
// best-effort at-least-once per target: transient errors are retried with
// bounded backoff and abandoned after the attempt budget. Consecutive
// failures are reported to the registry, which owns subscriber removal.
type Dispatcher struct {
	registry domain.SubscriberRegistry
	factory  SenderFactory
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher that resolves targets through registry
// and builds channel senders with factory.
func NewDispatcher(registry domain.SubscriberRegistry, factory SenderFactory, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		registry: registry,
		factory:  factory,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Broadcast delivers title/body to every active target and returns a
// per-target result. It completes when every target has succeeded, exhausted
// its retries, or timed out.
func (d *Dispatcher) Broadcast(ctx context.Context, title, body string) []Result {
	targets, err := d.registry.Active(ctx)
	if err != nil {
		d.logger.ErrorContext(ctx, "subscriber registry unavailable",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(targets) == 0 {
		return nil
	}

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target domain.Subscriber) {
			defer wg.Done()
			results[i] = d.deliver(ctx, target, title, body)
		}(i, target)
	}
	wg.Wait()
	return results
}

// deliver attempts one target with retries inside its own timeout budget.
func (d *Dispatcher) deliver(ctx context.Context, target domain.Subscriber, title, body string) Result {
	res := Result{TargetID: target.ID}

	sender := d.factory(target)
	if sender == nil {
		res.Err = domain.ErrNotFound
		d.logger.WarnContext(ctx, "no sender for subscriber channel",
			slog.String("target", target.ID),
			slog.String("channel", target.Channel),
		)
		return res
	}

	tctx := ctx
	if d.cfg.TargetTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, d.cfg.TargetTimeout)
		defer cancel()
	}

	retry := &backoff.Backoff{
		Min:    d.cfg.RetryBackoff,
		Max:    10 * d.cfg.RetryBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		err := sender.Send(tctx, title, body)
		if err == nil {
			res.Err = nil
			d.registry.RecordSuccess(ctx, target.ID)
			return res
		}
		res.Err = err

		d.logger.WarnContext(ctx, "notification send failed",
			slog.String("target", target.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-tctx.Done():
			res.Err = tctx.Err()
			res.Removed = d.registry.RecordFailure(ctx, target.ID)
			return res
		case <-time.After(retry.Duration()):
		}
	}

	res.Removed = d.registry.RecordFailure(ctx, target.ID)
	if res.Removed {
		d.logger.WarnContext(ctx, "target deactivated after repeated failures",
			slog.String("target", target.ID),
		)
	}
	return res
}
