package strategy

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// flatBars builds n bars closing at base with a small fixed range, then the
// caller overrides the tail to shape a setup.
func flatBars(n int, base float64) []domain.Candle {
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Candle, n)
	for i := range bars {
		open := start.Add(time.Duration(i) * 5 * time.Minute)
		bars[i] = domain.Candle{
			Instrument: "EURUSD",
			Timeframe:  domain.Timeframe5m,
			OpenTime:   open,
			CloseTime:  open.Add(5 * time.Minute),
			Open:       base,
			High:       base + 0.5,
			Low:        base - 0.5,
			Close:      base,
		}
	}
	return bars
}

func setClose(bars []domain.Candle, i int, close float64) {
	bars[i].Close = close
	if close > bars[i].High {
		bars[i].High = close
	}
	if close < bars[i].Low {
		bars[i].Low = close
	}
}

func TestEvaluateLongReversal(t *testing.T) {
	eval := NewBBands(DefaultBBandsParams(), testLogger())
	bars := flatBars(30, 100)
	// Prior bar plunges beyond the lower band, current bar recovers inside.
	setClose(bars, 28, 90)
	setClose(bars, 29, 99)

	cand, err := eval.Evaluate(context.Background(), "EURUSD", bars)
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, domain.SignalLong, cand.Kind)
	assert.Equal(t, "EURUSD", cand.Instrument)
	assert.Equal(t, 99.0, cand.Price)
	assert.Positive(t, cand.ATR)
	assert.Equal(t, eval.Fingerprint(), cand.Fingerprint)
	assert.Equal(t, bars[29].CloseTime, cand.Time)
	assert.Equal(t, "20", cand.Params["bb_period"])
}

func TestEvaluateShortReversal(t *testing.T) {
	eval := NewBBands(DefaultBBandsParams(), testLogger())
	bars := flatBars(30, 100)
	setClose(bars, 28, 110)
	setClose(bars, 29, 101)

	cand, err := eval.Evaluate(context.Background(), "EURUSD", bars)
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, domain.SignalShort, cand.Kind)
}

func TestEvaluateNoSignalOnQuietMarket(t *testing.T) {
	eval := NewBBands(DefaultBBandsParams(), testLogger())

	cand, err := eval.Evaluate(context.Background(), "EURUSD", flatBars(30, 100))
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestEvaluateRejectsShortWindow(t *testing.T) {
	eval := NewBBands(DefaultBBandsParams(), testLogger())

	_, err := eval.Evaluate(context.Background(), "EURUSD", flatBars(10, 100))
	assert.Error(t, err)
}

func TestFingerprintTracksParams(t *testing.T) {
	a := NewBBands(DefaultBBandsParams(), testLogger())
	b := NewBBands(DefaultBBandsParams(), testLogger())
	c := NewBBands(BBandsParams{Period: 10, StdDev: 2.0, ATRPeriod: 14}, testLogger())

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
