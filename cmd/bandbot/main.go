// Command bandbot is the signal engine entry point. It loads configuration,
// validates it, wires dependencies, sets up signal handling, and starts the
// live loop or a historical replay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/bandbot/internal/app"
	"github.com/alanyoungcy/bandbot/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	startDate := flag.String("start-date", "", "replay range start (YYYY-MM-DD)")
	endDate := flag.String("end-date", "", "replay range end (YYYY-MM-DD)")
	noCache := flag.Bool("no-cache", false, "disable signal dedup, treat every candidate as new")
	cacheHours := flag.Float64("cache-duration", 0, "override the dedup window in hours")
	noTelegram := flag.Bool("no-telegram", false, "disable notifications, keep lifecycle tracking")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Re-create the logger at the configured level.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	opts, err := buildOptions(*startDate, *endDate, *noCache, *cacheHours, *noTelegram)
	if err != nil {
		logger.Error("invalid flags", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application := app.New(cfg, opts, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("engine shut down gracefully")
		} else {
			logger.Error("engine exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}
}

// buildOptions converts raw flag values to app.Options. Replay dates must be
// given as a pair, in order.
func buildOptions(startDate, endDate string, noCache bool, cacheHours float64, noTelegram bool) (app.Options, error) {
	if cacheHours < 0 {
		return app.Options{}, fmt.Errorf("--cache-duration must be >= 0")
	}
	opts := app.Options{
		NoCache:    noCache,
		CacheTTL:   time.Duration(cacheHours * float64(time.Hour)),
		NoTelegram: noTelegram,
	}

	if (startDate == "") != (endDate == "") {
		return opts, fmt.Errorf("--start-date and --end-date must be given together")
	}
	if startDate == "" {
		return opts, nil
	}

	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return opts, fmt.Errorf("parse --start-date: %w", err)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return opts, fmt.Errorf("parse --end-date: %w", err)
	}
	if !end.After(start) {
		return opts, fmt.Errorf("--end-date must be after --start-date")
	}

	// The end date is inclusive: extend to the end of that day.
	opts.ReplayStart = start
	opts.ReplayEnd = end.Add(24*time.Hour - time.Nanosecond)
	return opts, nil
}
