package app

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bandbot/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Telegram.BotToken = "token"
	cfg.Telegram.ChatIDs = []string{"12345"}
	cfg.Discord.Webhooks = []string{"https://discord.example/webhook"}
	return &cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBuildDispatcherForConfiguredTargets(t *testing.T) {
	a := New(testConfig(), Options{}, testLogger())
	assert.NotNil(t, a.buildDispatcher())
}

func TestNoTelegramDisablesFanOutEntirely(t *testing.T) {
	// Discord targets are configured too; the flag must silence everything,
	// not just the Telegram channel.
	a := New(testConfig(), Options{NoTelegram: true}, testLogger())
	assert.Nil(t, a.buildDispatcher())
}

func TestDisabledNotifyConfigSuppressesDispatcher(t *testing.T) {
	cfg := testConfig()
	cfg.Notify.Enabled = false
	a := New(cfg, Options{}, testLogger())
	assert.Nil(t, a.buildDispatcher())
}

func TestNoDispatcherWithoutTargets(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, Options{}, testLogger())
	assert.Nil(t, a.buildDispatcher())
}

func TestSubscribersFromConfig(t *testing.T) {
	subs := subscribers(testConfig())
	require.Len(t, subs, 2)
	assert.Equal(t, "telegram:12345", subs[0].ID)
	assert.Equal(t, "telegram", subs[0].Channel)
	assert.Equal(t, "discord:0", subs[1].ID)
	assert.Equal(t, "https://discord.example/webhook", subs[1].Address)
	for _, sub := range subs {
		assert.True(t, sub.Live)
	}
}

func TestCacheConfigSelectsReplayTTL(t *testing.T) {
	cfg := testConfig()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	live := New(cfg, Options{}, testLogger()).cacheConfig()
	assert.Equal(t, cfg.Cache.LiveTTL.Duration, live.TTL)

	replay := New(cfg, Options{ReplayStart: start, ReplayEnd: start.AddDate(0, 1, 0)}, testLogger()).cacheConfig()
	assert.Equal(t, cfg.Cache.ReplayTTL.Duration, replay.TTL)

	override := New(cfg, Options{CacheTTL: 90 * time.Minute}, testLogger()).cacheConfig()
	assert.Equal(t, 90*time.Minute, override.TTL)
}
