package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubSender fails the first failures calls, then succeeds. block delays
// every call to simulate a slow endpoint.
type stubSender struct {
	name     string
	failures int32
	calls    atomic.Int32
	block    time.Duration
}

func (s *stubSender) Send(ctx context.Context, _, _ string) error {
	n := s.calls.Add(1)
	if s.block > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.block):
		}
	}
	if n <= s.failures {
		return errors.New("unreachable")
	}
	return nil
}

func (s *stubSender) Name() string { return s.name }

func subscribers(n int) []domain.Subscriber {
	subs := make([]domain.Subscriber, n)
	for i := range subs {
		subs[i] = domain.Subscriber{
			ID:      string(rune('a' + i)),
			Channel: "stub",
			Address: "addr",
		}
	}
	return subs
}

func dispatcher(reg *Registry, senders map[string]*stubSender) *Dispatcher {
	factory := func(sub domain.Subscriber) Sender {
		if s, ok := senders[sub.ID]; ok {
			return s
		}
		return nil
	}
	cfg := Config{
		TargetTimeout: 2 * time.Second,
		MaxAttempts:   3,
		RetryBackoff:  time.Millisecond,
	}
	return NewDispatcher(reg, factory, cfg, testLogger())
}

func TestBroadcastReachesAllTargets(t *testing.T) {
	reg := NewRegistry(subscribers(3), 5, testLogger())
	senders := map[string]*stubSender{
		"a": {name: "a"},
		"b": {name: "b"},
		"c": {name: "c"},
	}

	results := dispatcher(reg, senders).Broadcast(context.Background(), "signal", "body")
	require.Len(t, results, 3)
	for _, res := range results {
		assert.NoError(t, res.Err)
		assert.Equal(t, 1, res.Attempts)
	}
}

func TestOneFailingTargetDoesNotAffectOthers(t *testing.T) {
	reg := NewRegistry(subscribers(3), 5, testLogger())
	senders := map[string]*stubSender{
		"a": {name: "a"},
		"b": {name: "b", failures: 99},
		"c": {name: "c"},
	}

	results := dispatcher(reg, senders).Broadcast(context.Background(), "signal", "body")
	require.Len(t, results, 3)

	byID := map[string]Result{}
	for _, res := range results {
		byID[res.TargetID] = res
	}
	assert.NoError(t, byID["a"].Err)
	assert.NoError(t, byID["c"].Err)
	assert.Error(t, byID["b"].Err)
	assert.Equal(t, 3, byID["b"].Attempts, "retries bounded by max attempts")
}

func TestTransientFailureRecoversWithinRetryBudget(t *testing.T) {
	reg := NewRegistry(subscribers(1), 5, testLogger())
	senders := map[string]*stubSender{"a": {name: "a", failures: 2}}

	results := dispatcher(reg, senders).Broadcast(context.Background(), "signal", "body")
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestSlowTargetDoesNotDelayFastOnes(t *testing.T) {
	reg := NewRegistry(subscribers(2), 5, testLogger())
	senders := map[string]*stubSender{
		"a": {name: "a"},
		"b": {name: "b", block: 300 * time.Millisecond},
	}
	d := dispatcher(reg, senders)

	start := time.Now()
	results := d.Broadcast(context.Background(), "signal", "body")
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	// The broadcast as a whole waits for the slow target's own budget, but
	// never serializes targets: total stays near the single slowest send.
	assert.Less(t, elapsed, 2*300*time.Millisecond)
}

func TestThresholdDeactivatesTarget(t *testing.T) {
	reg := NewRegistry(subscribers(1), 2, testLogger())
	senders := map[string]*stubSender{"a": {name: "a", failures: 999}}
	d := dispatcher(reg, senders)
	ctx := context.Background()

	first := d.Broadcast(ctx, "signal", "body")
	require.Len(t, first, 1)
	assert.False(t, first[0].Removed)

	second := d.Broadcast(ctx, "signal", "body")
	require.Len(t, second, 1)
	assert.True(t, second[0].Removed, "second consecutive failure crosses threshold 2")

	third := d.Broadcast(ctx, "signal", "body")
	assert.Empty(t, third, "deactivated target no longer receives broadcasts")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	reg := NewRegistry(subscribers(1), 2, testLogger())
	ctx := context.Background()

	assert.False(t, reg.RecordFailure(ctx, "a"))
	reg.RecordSuccess(ctx, "a")
	assert.False(t, reg.RecordFailure(ctx, "a"), "count restarts after a success")

	active, err := reg.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}
