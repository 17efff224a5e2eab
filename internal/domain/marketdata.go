package domain

import (
	"context"
	"time"
)

// CandleSource supplies OHLCV bars for an instrument. Implementations wrap a
// market-data provider; the scheduler treats fetch failures as retryable and
// never lets one instrument's failure abort the tick for others.
type CandleSource interface {
	// Candles returns the most recent limit bars for the instrument.
	Candles(ctx context.Context, instrument string, tf Timeframe, limit int) ([]Candle, error)

	// CandlesRange returns bars between start and end, used for replay runs
	// bounded by an explicit date range.
	CandlesRange(ctx context.Context, instrument string, tf Timeframe, start, end time.Time) ([]Candle, error)
}
