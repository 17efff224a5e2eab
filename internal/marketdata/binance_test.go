package marketdata

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// klinePage builds n consecutive 5m klines starting at startMs.
func klinePage(startMs int64, n int) []*binance.Kline {
	const barMs = 5 * 60 * 1000
	page := make([]*binance.Kline, n)
	for i := range page {
		open := startMs + int64(i)*barMs
		page[i] = &binance.Kline{
			OpenTime:  open,
			CloseTime: open + barMs - 1,
			Open:      "1.0850",
			High:      "1.0860",
			Low:       "1.0840",
			Close:     "1.0855",
			Volume:    "100",
		}
	}
	return page
}

func TestCollectRangePagesPastTheRequestLimit(t *testing.T) {
	const barMs = 5 * 60 * 1000

	// 2.5 request limits worth of bars: two full pages and a short one.
	var starts []int64
	fetch := func(startMs int64) ([]*binance.Kline, error) {
		starts = append(starts, startMs)
		switch len(starts) {
		case 1, 2:
			return klinePage(startMs, rangePageLimit), nil
		default:
			return klinePage(startMs, rangePageLimit/2), nil
		}
	}

	klines, err := collectRange(0, fetch)
	require.NoError(t, err)
	assert.Len(t, klines, 2*rangePageLimit+rangePageLimit/2)

	// Each page resumes just past the previous page's last close.
	require.Len(t, starts, 3)
	assert.Equal(t, int64(0), starts[0])
	assert.Equal(t, int64(rangePageLimit*barMs), starts[1])
	assert.Equal(t, int64(2*rangePageLimit*barMs), starts[2])

	// Bars stay strictly ordered across page boundaries.
	for i := 1; i < len(klines); i++ {
		assert.Greater(t, klines[i].OpenTime, klines[i-1].CloseTime)
	}
}

func TestCollectRangeSinglePage(t *testing.T) {
	calls := 0
	fetch := func(startMs int64) ([]*binance.Kline, error) {
		calls++
		return klinePage(startMs, 10), nil
	}

	klines, err := collectRange(0, fetch)
	require.NoError(t, err)
	assert.Len(t, klines, 10)
	assert.Equal(t, 1, calls, "a short page must end the walk")
}

func TestCollectRangePropagatesFetchErrors(t *testing.T) {
	fetchErr := errors.New("rate limited")
	calls := 0
	fetch := func(int64) ([]*binance.Kline, error) {
		calls++
		if calls == 2 {
			return nil, fetchErr
		}
		return klinePage(0, rangePageLimit), nil
	}

	_, err := collectRange(0, fetch)
	require.ErrorIs(t, err, fetchErr)
}

func TestCollectRangeStopsOnNonAdvancingCursor(t *testing.T) {
	calls := 0
	fetch := func(int64) ([]*binance.Kline, error) {
		calls++
		// A full page whose timestamps never move forward.
		return klinePage(0, rangePageLimit), nil
	}

	klines, err := collectRange(0, fetch)
	require.NoError(t, err)
	assert.Len(t, klines, 2*rangePageLimit)
	assert.Equal(t, 2, calls)
}
