package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	s3blob "github.com/alanyoungcy/bandbot/internal/blob/s3"
	"github.com/alanyoungcy/bandbot/internal/cache/redis"
	"github.com/alanyoungcy/bandbot/internal/config"
	"github.com/alanyoungcy/bandbot/internal/domain"
	"github.com/alanyoungcy/bandbot/internal/store/postgres"
)

// Dependencies bundles the external-resource implementations the engine
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// SignalStore is the durable dedup tier. Nil when Redis is not
	// configured; the signal cache then runs in-process only.
	SignalStore domain.SignalStore

	// TradeLog persists completed trades.
	TradeLog domain.TradeLog

	// Archiver uploads the run's trade log on clean shutdown. Nil when S3 is
	// not configured.
	Archiver *s3blob.RunArchiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// releases resources in reverse acquisition order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL trade log ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.TradeLog = postgres.NewTradeLogStore(pgClient.Pool())

	// --- Redis durable dedup tier (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.SignalStore = redis.NewSignalStore(redisClient)
	} else {
		logger.Info("redis not configured, signal dedup is in-process only")
	}

	// --- S3 run archive (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewRunArchiver(s3blob.NewWriter(s3Client), deps.TradeLog)
	}

	return deps, cleanup, nil
}

// subscribers builds the initial registry population from configured Telegram
// chats and Discord webhooks.
func subscribers(cfg *config.Config) []domain.Subscriber {
	var subs []domain.Subscriber
	if cfg.Telegram.BotToken != "" {
		for _, chatID := range cfg.Telegram.ChatIDs {
			subs = append(subs, domain.Subscriber{
				ID:      "telegram:" + chatID,
				Channel: "telegram",
				Address: chatID,
				Live:    true,
			})
		}
	}
	for i, webhook := range cfg.Discord.Webhooks {
		subs = append(subs, domain.Subscriber{
			ID:      "discord:" + strconv.Itoa(i),
			Channel: "discord",
			Address: webhook,
			Live:    true,
		})
	}
	return subs
}
