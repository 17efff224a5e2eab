// Package scheduler drives the evaluation loop: it wakes on wall-clock
// aligned boundaries, fans work out across the active instruments through a
// bounded pool, and routes strategy output through the signal cache, the
// lifecycle manager, and the notification dispatcher. At most one tick runs
// at a time; an overlapping boundary is skipped or queued per configuration.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bandbot/internal/domain"
	"github.com/alanyoungcy/bandbot/internal/lifecycle"
	"github.com/alanyoungcy/bandbot/internal/notify"
	"github.com/alanyoungcy/bandbot/internal/sigcache"
	"github.com/alanyoungcy/bandbot/internal/strategy"
)

// Overlap policies for a boundary arriving while a tick is still running.
const (
	OverlapSkip  = "skip"
	OverlapQueue = "queue"
)

// Instrument is one tradable symbol with its session calendar.
type Instrument struct {
	Symbol    string
	Timeframe domain.Timeframe
	Hours     Hours
}

// Config holds cadence and pool parameters.
type Config struct {
	Interval      time.Duration
	OverlapPolicy string // OverlapSkip or OverlapQueue
	Workers       int    // bounded pool ceiling, one task per instrument
	Bars          int    // data window per evaluation
	FetchAttempts int    // per-instrument retry budget for data fetches
	FetchBackoff  time.Duration
}

// Scheduler is the top-level driver.
type Scheduler struct {
	cfg         Config
	instruments []Instrument
	source      domain.CandleSource
	eval        strategy.Evaluator
	cache       *sigcache.Cache
	orders      *lifecycle.Manager
	dispatcher  *notify.Dispatcher // nil disables fan-out
	logger      *slog.Logger

	tickMu sync.Mutex
	queued atomic.Bool
	now    func() time.Time
}

// New creates a Scheduler. dispatcher may be nil to keep lifecycle tracking
// active without notifications.
func New(
	cfg Config,
	instruments []Instrument,
	source domain.CandleSource,
	eval strategy.Evaluator,
	cache *sigcache.Cache,
	orders *lifecycle.Manager,
	dispatcher *notify.Dispatcher,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.FetchAttempts < 1 {
		cfg.FetchAttempts = 1
	}
	return &Scheduler{
		cfg:         cfg,
		instruments: instruments,
		source:      source,
		eval:        eval,
		cache:       cache,
		orders:      orders,
		dispatcher:  dispatcher,
		logger:      logger.With(slog.String("component", "scheduler")),
		now:         time.Now,
	}
}

// Run executes ticks on wall-clock boundaries aligned to the configured
// interval (:00, :05, ... for five minutes) until ctx is cancelled. On
// shutdown the in-flight tick finishes before Run returns; no further ticks
// are scheduled.
func (s *Scheduler) Run(ctx context.Context) error {
	next := s.now().Truncate(s.cfg.Interval).Add(s.cfg.Interval)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("interval", s.cfg.Interval),
		slog.Time("first_tick", next),
		slog.Int("instruments", len(s.instruments)),
	)

	var inflight sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case boundary := <-timer.C:
			next = next.Add(s.cfg.Interval)
			timer.Reset(time.Until(next))

			if !s.tickMu.TryLock() {
				switch s.cfg.OverlapPolicy {
				case OverlapQueue:
					s.queued.Store(true)
					s.logger.WarnContext(ctx, "tick boundary queued behind running tick",
						slog.Time("boundary", boundary),
					)
				default:
					s.logger.WarnContext(ctx, "tick boundary skipped, previous tick still running",
						slog.Time("boundary", boundary),
					)
				}
				continue
			}

			inflight.Add(1)
			go func(boundary time.Time) {
				defer inflight.Done()
				defer s.tickMu.Unlock()
				s.Tick(ctx, boundary)
				for s.queued.Swap(false) {
					if ctx.Err() != nil {
						return
					}
					s.Tick(ctx, s.now())
				}
			}(boundary)
		}
	}
}

// Tick evaluates every instrument tradable at now. Instruments run
// concurrently through the bounded pool; a failure in one is isolated and
// logged, never fatal to the tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	active := make([]Instrument, 0, len(s.instruments))
	for _, inst := range s.instruments {
		if inst.Hours.OpenAt(now) {
			active = append(active, inst)
		} else {
			s.logger.DebugContext(ctx, "instrument outside trading hours",
				slog.String("instrument", inst.Symbol),
			)
		}
	}
	if len(active) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, inst := range active {
		g.Go(func() error {
			if err := s.evalInstrument(gctx, inst); err != nil {
				s.logger.ErrorContext(gctx, "instrument evaluation failed",
					slog.String("instrument", inst.Symbol),
					slog.String("error", err.Error()),
				)
			}
			return nil // isolate: never abort the tick for other instruments
		})
	}
	_ = g.Wait()
}

// evalInstrument fetches the instrument's data window, advances its open
// orders on the latest bar, and routes any new candidate through the cache,
// the lifecycle manager, and the dispatcher.
func (s *Scheduler) evalInstrument(ctx context.Context, inst Instrument) error {
	bars, err := s.fetchWithRetry(ctx, inst)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("scheduler: %s: empty data window", inst.Symbol)
	}

	latest := bars[len(bars)-1]
	for _, out := range s.orders.Advance(ctx, latest) {
		s.announceClose(ctx, inst.Symbol, out)
	}

	cand, err := s.eval.Evaluate(ctx, inst.Symbol, bars)
	if err != nil {
		return fmt.Errorf("scheduler: evaluate %s: %w", inst.Symbol, err)
	}
	if cand == nil {
		return nil
	}

	if !s.cache.RegisterIfNew(ctx, *cand) {
		return nil
	}

	ord, err := s.orders.Open(ctx, *cand, inst.Timeframe)
	if err != nil {
		if errors.Is(err, domain.ErrPositionLimit) {
			s.logger.InfoContext(ctx, "signal rejected by position ceiling",
				slog.String("instrument", inst.Symbol),
			)
			return nil
		}
		return err
	}

	s.announceOpen(ctx, ord)
	return nil
}

// fetchWithRetry retries transient data-source failures with bounded backoff
// for this instrument only.
func (s *Scheduler) fetchWithRetry(ctx context.Context, inst Instrument) ([]domain.Candle, error) {
	retry := &backoff.Backoff{
		Min:    s.cfg.FetchBackoff,
		Max:    10 * s.cfg.FetchBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.FetchAttempts; attempt++ {
		bars, err := s.source.Candles(ctx, inst.Symbol, inst.Timeframe, s.cfg.Bars)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		if attempt == s.cfg.FetchAttempts {
			break
		}
		s.logger.WarnContext(ctx, "data fetch failed, retrying",
			slog.String("instrument", inst.Symbol),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry.Duration()):
		}
	}
	return nil, fmt.Errorf("scheduler: fetch %s after %d attempts: %w", inst.Symbol, s.cfg.FetchAttempts, lastErr)
}

// Replay walks an explicit historical date range bar by bar, instrument by
// instrument, driving the same cache/lifecycle/dispatch path as live ticks.
func (s *Scheduler) Replay(ctx context.Context, start, end time.Time) error {
	for _, inst := range s.instruments {
		bars, err := s.source.CandlesRange(ctx, inst.Symbol, inst.Timeframe, start, end)
		if err != nil {
			s.logger.ErrorContext(ctx, "replay fetch failed",
				slog.String("instrument", inst.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		for i := s.cfg.Bars; i <= len(bars); i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			window := bars[i-s.cfg.Bars : i]
			latest := window[len(window)-1]

			for _, out := range s.orders.Advance(ctx, latest) {
				s.announceClose(ctx, inst.Symbol, out)
			}

			cand, err := s.eval.Evaluate(ctx, inst.Symbol, window)
			if err != nil {
				s.logger.WarnContext(ctx, "replay evaluation failed",
					slog.String("instrument", inst.Symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			if cand == nil || !s.cache.RegisterIfNew(ctx, *cand) {
				continue
			}
			ord, err := s.orders.Open(ctx, *cand, inst.Timeframe)
			if err != nil {
				if !errors.Is(err, domain.ErrPositionLimit) {
					s.logger.WarnContext(ctx, "replay open failed",
						slog.String("instrument", inst.Symbol),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			s.announceOpen(ctx, ord)
		}
	}
	return nil
}

func (s *Scheduler) announceOpen(ctx context.Context, ord *domain.Order) {
	if s.dispatcher == nil {
		return
	}
	title := fmt.Sprintf("New %s signal: %s", ord.Direction, ord.Instrument)
	body := fmt.Sprintf("entry %s\nstop loss %s\ntake profit %s\nsize %s",
		ord.Entry, ord.StopLoss, ord.TakeProfit, ord.Size)
	s.dispatcher.Broadcast(ctx, title, body)
}

func (s *Scheduler) announceClose(ctx context.Context, instrument string, out domain.Outcome) {
	if s.dispatcher == nil {
		return
	}
	title := fmt.Sprintf("Order closed: %s (%s)", instrument, out.Kind)
	body := fmt.Sprintf("exit %s\npnl %s\naccount %s", out.ExitPrice, out.PnL, out.AccountAfter)
	s.dispatcher.Broadcast(ctx, title, body)
}
