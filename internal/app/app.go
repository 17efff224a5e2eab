// Package app provides the top-level application lifecycle for the signal
// engine. It wires together all dependencies (trade log, dedup cache,
// notification targets, market data), starts the live scheduler or the
// historical replay, and guarantees that no order is left non-terminal on
// shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bandbot/internal/config"
	"github.com/alanyoungcy/bandbot/internal/domain"
	"github.com/alanyoungcy/bandbot/internal/lifecycle"
	"github.com/alanyoungcy/bandbot/internal/marketdata"
	"github.com/alanyoungcy/bandbot/internal/notify"
	"github.com/alanyoungcy/bandbot/internal/scheduler"
	"github.com/alanyoungcy/bandbot/internal/sigcache"
	"github.com/alanyoungcy/bandbot/internal/strategy"
)

// shutdownBudget bounds the forced-close and archive work after the run
// context is cancelled.
const shutdownBudget = 30 * time.Second

// Options are the per-invocation switches from the command line. Zero value
// means a live run with the configured cache settings.
type Options struct {
	// ReplayStart/ReplayEnd select historical replay over an explicit date
	// range instead of the live loop. Both must be set together.
	ReplayStart time.Time
	ReplayEnd   time.Time

	// NoCache disables signal dedup entirely: every candidate is treated as
	// new. The lifecycle position ceiling still applies.
	NoCache bool

	// CacheTTL overrides the configured dedup window when > 0.
	CacheTTL time.Duration

	// NoTelegram disables notification fan-out entirely while keeping
	// lifecycle tracking active.
	NoTelegram bool
}

// Replay reports whether the options select a historical replay run.
func (o Options) Replay() bool {
	return !o.ReplayStart.IsZero() && !o.ReplayEnd.IsZero()
}

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, runs the live loop
// or the replay until the context is cancelled or the range is exhausted,
// then force-closes remaining orders and archives the run.
func (a *App) Run(ctx context.Context) error {
	runID := uuid.NewString()
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("run_id", runID),
		slog.Bool("replay", a.opts.Replay()),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	instruments, err := buildInstruments(a.cfg)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	cache := sigcache.New(a.cacheConfig(), deps.SignalStore, a.logger)

	orders := lifecycle.New(lifecycle.Config{
		AccountValue:  a.cfg.Risk.AccountValue,
		RiskPct:       a.cfg.Risk.RiskPct,
		ATRMultiplier: a.cfg.Risk.ATRMultiplier,
		RiskReward:    a.cfg.Risk.RiskReward,
		MaxPositions:  a.cfg.Risk.MaxPositions,
		Lifetime:      a.cfg.LifetimeFor,
	}, deps.TradeLog, nil, runID, a.logger)

	dispatcher := a.buildDispatcher()
	if dispatcher == nil {
		a.logger.Info("notifications disabled, orders are tracked silently")
	}

	sched := scheduler.New(scheduler.Config{
		Interval:      a.cfg.Scheduler.Interval.Duration,
		OverlapPolicy: a.cfg.Scheduler.OverlapPolicy,
		Workers:       a.cfg.Scheduler.Workers,
		Bars:          a.cfg.Scheduler.Bars,
		FetchAttempts: a.cfg.Scheduler.FetchAttempts,
		FetchBackoff:  a.cfg.Scheduler.FetchBackoff.Duration,
	}, instruments,
		marketdata.NewBinanceSource(a.cfg.Scheduler.DataAPIKey, a.cfg.Scheduler.DataAPISecret),
		strategy.NewBBands(strategy.DefaultBBandsParams(), a.logger),
		cache, orders, dispatcher, a.logger)

	runErr := a.runEngine(ctx, sched, cache)

	// The run context may already be cancelled; shutdown work gets its own
	// bounded context so orders are never left dangling.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	outcomes := orders.ForceCloseAll(shutdownCtx, nil)
	if len(outcomes) > 0 {
		a.logger.Info("force-closed remaining orders", slog.Int("count", len(outcomes)))
	}

	if deps.Archiver != nil {
		n, err := deps.Archiver.ArchiveRun(shutdownCtx, runID, time.Now())
		if err != nil {
			a.logger.Error("run archive failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("run archived", slog.String("run_id", runID), slog.Int64("trades", n))
		}
	}

	a.logger.Info("engine finished",
		slog.String("run_id", runID),
		slog.Int("closed_trades", orders.ClosedCount()),
		slog.String("account", orders.AccountValue().StringFixed(2)),
	)
	return runErr
}

// buildDispatcher assembles the notification fan-out, or returns nil when it
// is disabled: by config, by --no-telegram, or because no targets are
// configured. A nil dispatcher keeps lifecycle tracking fully active.
func (a *App) buildDispatcher() *notify.Dispatcher {
	if !a.cfg.Notify.Enabled || a.opts.NoTelegram {
		return nil
	}
	subs := subscribers(a.cfg)
	if len(subs) == 0 {
		return nil
	}
	registry := notify.NewRegistry(subs, a.cfg.Notify.FailureThreshold, a.logger)
	return notify.NewDispatcher(registry, notify.NewSenderFactory(a.cfg.Telegram.BotToken), notify.Config{
		TargetTimeout: a.cfg.Notify.TargetTimeout.Duration,
		MaxAttempts:   a.cfg.Notify.MaxAttempts,
		RetryBackoff:  a.cfg.Notify.RetryBackoff.Duration,
	}, a.logger)
}

// runEngine drives either the replay range or the live scheduler loop plus
// the cache sweeper.
func (a *App) runEngine(ctx context.Context, sched *scheduler.Scheduler, cache *sigcache.Cache) error {
	if a.opts.Replay() {
		if err := sched.Replay(ctx, a.opts.ReplayStart, a.opts.ReplayEnd); err != nil {
			return fmt.Errorf("app: replay: %w", err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cache.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: scheduler: %w", err)
	}
	return nil
}

// cacheConfig derives the dedup cache settings from configuration and
// command-line overrides. Replay runs use the longer replay window so a
// range walked twice produces the same alerts once.
func (a *App) cacheConfig() sigcache.Config {
	ttl := a.cfg.Cache.LiveTTL.Duration
	if a.opts.Replay() {
		ttl = a.cfg.Cache.ReplayTTL.Duration
	}
	if a.opts.CacheTTL > 0 {
		ttl = a.opts.CacheTTL
	}
	return sigcache.Config{
		Tolerance:     a.cfg.Cache.Tolerance,
		TolerancePct:  a.cfg.Cache.TolerancePct,
		TTL:           ttl,
		SweepInterval: a.cfg.Cache.SweepInterval.Duration,
		Disabled:      a.opts.NoCache,
	}
}

// buildInstruments converts configured instruments into scheduler instruments
// with parsed session calendars. Validate has already vetted the clock and
// weekday strings; errors here indicate a config edit raced the load.
func buildInstruments(cfg *config.Config) ([]scheduler.Instrument, error) {
	instruments := make([]scheduler.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		hours := scheduler.Hours{TradeWeekends: ic.TradeWeekends}
		for _, sc := range ic.Sessions {
			open, err := scheduler.ParseClock(sc.Open)
			if err != nil {
				return nil, fmt.Errorf("instrument %s: %w", ic.Symbol, err)
			}
			cls, err := scheduler.ParseClock(sc.Close)
			if err != nil {
				return nil, fmt.Errorf("instrument %s: %w", ic.Symbol, err)
			}
			session := scheduler.Session{Open: open, Close: cls}
			for _, day := range sc.Days {
				wd, err := scheduler.ParseWeekday(day)
				if err != nil {
					return nil, fmt.Errorf("instrument %s: %w", ic.Symbol, err)
				}
				session.Days = append(session.Days, wd)
			}
			hours.Sessions = append(hours.Sessions, session)
		}
		instruments = append(instruments, scheduler.Instrument{
			Symbol:    ic.Symbol,
			Timeframe: domain.Timeframe(ic.Timeframe),
			Hours:     hours,
		})
	}
	return instruments, nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
