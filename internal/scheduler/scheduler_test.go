package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bandbot/internal/domain"
	"github.com/alanyoungcy/bandbot/internal/lifecycle"
	"github.com/alanyoungcy/bandbot/internal/sigcache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeSource serves scripted bars and can fail or block per instrument.
type fakeSource struct {
	mu         sync.Mutex
	bars       map[string][]domain.Candle
	failFor    map[string]int // remaining failures per instrument
	calls      atomic.Int32
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	blockUntil chan struct{} // when set, Candles waits for it once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bars:    make(map[string][]domain.Candle),
		failFor: make(map[string]int),
	}
}

func (f *fakeSource) Candles(ctx context.Context, instrument string, _ domain.Timeframe, _ int) ([]domain.Candle, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxFlight.Load()
		if cur <= max || f.maxFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	f.mu.Lock()
	block := f.blockUntil
	f.blockUntil = nil
	f.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failFor[instrument]; n > 0 {
		f.failFor[instrument] = n - 1
		return nil, errors.New("fetch timeout")
	}
	return f.bars[instrument], nil
}

func (f *fakeSource) CandlesRange(_ context.Context, instrument string, _ domain.Timeframe, _, _ time.Time) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bars[instrument], nil
}

// fakeEval emits each queued candidate once, then nil.
type fakeEval struct {
	mu    sync.Mutex
	queue map[string][]*domain.SignalCandidate
}

func newFakeEval() *fakeEval {
	return &fakeEval{queue: make(map[string][]*domain.SignalCandidate)}
}

func (f *fakeEval) Name() string        { return "fake" }
func (f *fakeEval) Fingerprint() string { return "fp" }

func (f *fakeEval) Evaluate(_ context.Context, instrument string, _ []domain.Candle) (*domain.SignalCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queue[instrument]
	if len(q) == 0 {
		return nil, nil
	}
	cand := q[0]
	f.queue[instrument] = q[1:]
	return cand, nil
}

func (f *fakeEval) push(cand domain.SignalCandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[cand.Instrument] = append(f.queue[cand.Instrument], &cand)
}

func testBars(instrument string, n int, price float64) []domain.Candle {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Candle, n)
	for i := range bars {
		open := start.Add(time.Duration(i) * 5 * time.Minute)
		bars[i] = domain.Candle{
			Instrument: instrument,
			Timeframe:  domain.Timeframe5m,
			OpenTime:   open,
			CloseTime:  open.Add(5 * time.Minute),
			Open:       price,
			High:       price + 0.001,
			Low:        price - 0.001,
			Close:      price,
		}
	}
	return bars
}

func testCandidate(instrument string, price float64) domain.SignalCandidate {
	return domain.SignalCandidate{
		Instrument:  instrument,
		Kind:        domain.SignalLong,
		Price:       price,
		ATR:         0.0010,
		Time:        time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		Fingerprint: "fp",
	}
}

func testManager() *lifecycle.Manager {
	cfg := lifecycle.Config{
		AccountValue:  100_000,
		RiskPct:       1.0,
		ATRMultiplier: 1.2,
		RiskReward:    2.5,
		MaxPositions:  1,
	}
	return lifecycle.New(cfg, nil, nil, "run-test", testLogger())
}

func testCache() *sigcache.Cache {
	return sigcache.New(sigcache.Config{Tolerance: 0.001, TTL: time.Hour}, nil, testLogger())
}

func testScheduler(source *fakeSource, eval *fakeEval, orders *lifecycle.Manager, cache *sigcache.Cache, instruments ...Instrument) *Scheduler {
	cfg := Config{
		Interval:      5 * time.Minute,
		OverlapPolicy: OverlapSkip,
		Workers:       2,
		Bars:          10,
		FetchAttempts: 3,
		FetchBackoff:  time.Millisecond,
	}
	return New(cfg, instruments, source, eval, cache, orders, nil, testLogger())
}

func TestTickOpensOrderFromNewSignal(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 10, 1.0850)
	eval := newFakeEval()
	eval.push(testCandidate("EURUSD", 1.0850))
	orders := testManager()

	s := testScheduler(source, eval, orders, testCache(), Instrument{Symbol: "EURUSD", Timeframe: domain.Timeframe5m})
	s.Tick(context.Background(), at(time.Monday, 10, 0))

	open := orders.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, "EURUSD", open[0].Instrument)
	assert.Equal(t, domain.OrderStateOpen, open[0].State)
}

func TestTickSuppressesDuplicateSignal(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 10, 1.0850)
	eval := newFakeEval()
	eval.push(testCandidate("EURUSD", 1.0850))
	eval.push(testCandidate("EURUSD", 1.08501)) // same bucket: duplicate
	orders := testManager()
	cache := testCache()

	inst := Instrument{Symbol: "EURUSD", Timeframe: domain.Timeframe5m}
	s := testScheduler(source, eval, orders, cache, inst)

	s.Tick(context.Background(), at(time.Monday, 10, 0))
	require.Len(t, orders.OpenOrders(), 1)

	// Close the order so the ceiling is free; only the cache stands in the
	// way of the second, near-identical candidate.
	orders.ForceCloseAll(context.Background(), map[string]float64{"EURUSD": 1.0850})

	s.Tick(context.Background(), at(time.Monday, 10, 5))
	assert.Empty(t, orders.OpenOrders(), "duplicate signal must not reopen")
}

func TestTickIsolatesFailingInstrument(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 10, 1.0850)
	source.bars["GBPUSD"] = testBars("GBPUSD", 10, 1.2650)
	source.failFor["EURUSD"] = 99 // exhausts every retry
	eval := newFakeEval()
	eval.push(testCandidate("GBPUSD", 1.2650))
	orders := testManager()

	s := testScheduler(source, eval, orders, testCache(),
		Instrument{Symbol: "EURUSD", Timeframe: domain.Timeframe5m},
		Instrument{Symbol: "GBPUSD", Timeframe: domain.Timeframe5m},
	)
	s.Tick(context.Background(), at(time.Monday, 10, 0))

	open := orders.OpenOrders()
	require.Len(t, open, 1, "healthy instrument proceeds despite the failing one")
	assert.Equal(t, "GBPUSD", open[0].Instrument)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 10, 1.0850)
	source.failFor["EURUSD"] = 2 // fails twice, third attempt succeeds
	eval := newFakeEval()
	eval.push(testCandidate("EURUSD", 1.0850))
	orders := testManager()

	s := testScheduler(source, eval, orders, testCache(), Instrument{Symbol: "EURUSD", Timeframe: domain.Timeframe5m})
	s.Tick(context.Background(), at(time.Monday, 10, 0))

	assert.Len(t, orders.OpenOrders(), 1)
	assert.GreaterOrEqual(t, source.calls.Load(), int32(3))
}

func TestTickSkipsClosedInstruments(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 10, 1.0850)
	eval := newFakeEval()
	eval.push(testCandidate("EURUSD", 1.0850))

	closed := Hours{Sessions: []Session{{Open: 8 * 60, Close: 9 * 60}}}
	s := testScheduler(source, eval, testManager(), testCache(), Instrument{
		Symbol:    "EURUSD",
		Timeframe: domain.Timeframe5m,
		Hours:     closed,
	})
	s.Tick(context.Background(), at(time.Monday, 12, 0))

	assert.Zero(t, source.calls.Load(), "closed instruments are not fetched")
}

func TestRunNeverOverlapsTicks(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 10, 1.0850)
	release := make(chan struct{})
	source.blockUntil = release

	eval := newFakeEval()
	orders := testManager()
	cfg := Config{
		Interval:      40 * time.Millisecond,
		OverlapPolicy: OverlapSkip,
		Workers:       1,
		Bars:          10,
		FetchAttempts: 1,
		FetchBackoff:  time.Millisecond,
	}
	inst := Instrument{Symbol: "EURUSD", Timeframe: domain.Timeframe5m, Hours: Hours{TradeWeekends: true}}
	s := New(cfg, []Instrument{inst}, source, eval, testCache(), orders, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	// Let several boundaries pass while the first tick is blocked, then
	// release it and shut down.
	time.Sleep(200 * time.Millisecond)
	close(release)
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), source.maxFlight.Load(), "ticks must never run concurrently")
}

func TestQueuePolicyCollapsesMissedBoundaries(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 10, 1.0850)
	release1 := make(chan struct{})
	release2 := make(chan struct{})
	source.blockUntil = release1

	eval := newFakeEval()
	orders := testManager()
	cfg := Config{
		Interval:      40 * time.Millisecond,
		OverlapPolicy: OverlapQueue,
		Workers:       1,
		Bars:          10,
		FetchAttempts: 1,
		FetchBackoff:  time.Millisecond,
	}
	inst := Instrument{Symbol: "EURUSD", Timeframe: domain.Timeframe5m, Hours: Hours{TradeWeekends: true}}
	s := New(cfg, []Instrument{inst}, source, eval, testCache(), orders, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	// Several boundaries arrive while the first tick is blocked; all of
	// them land on the same pending flag.
	time.Sleep(150 * time.Millisecond)
	source.mu.Lock()
	source.blockUntil = release2
	source.mu.Unlock()
	close(release1)

	// The first tick finishes and the pending flag drains into one
	// follow-up tick, which blocks in turn until shutdown.
	time.Sleep(100 * time.Millisecond)
	cancel()
	close(release2)
	<-done

	assert.Equal(t, int32(2), source.calls.Load(), "missed boundaries collapse into a single follow-up tick")
	assert.Equal(t, int32(1), source.maxFlight.Load(), "the queued tick must wait for the running one")
}

func TestReplayDrivesFullPipeline(t *testing.T) {
	source := newFakeSource()
	source.bars["EURUSD"] = testBars("EURUSD", 30, 1.0850)
	eval := newFakeEval()
	eval.push(testCandidate("EURUSD", 1.0850))
	orders := testManager()

	s := testScheduler(source, eval, orders, testCache(), Instrument{Symbol: "EURUSD", Timeframe: domain.Timeframe5m})

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	err := s.Replay(context.Background(), start, start.Add(24*time.Hour))
	require.NoError(t, err)

	require.Len(t, orders.OpenOrders(), 1)
	outcomes := orders.ForceCloseAll(context.Background(), map[string]float64{"EURUSD": 1.0850})
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.ExitRunEnd, outcomes[0].Kind)
	assert.Empty(t, orders.OpenOrders())
}
