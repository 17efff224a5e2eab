// Package marketdata implements domain.CandleSource against exchange REST
// APIs.
package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// BinanceSource fetches OHLCV bars from the Binance klines endpoint.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource creates a BinanceSource. Klines are public data, so the
// key pair may be empty.
func NewBinanceSource(apiKey, apiSecret string) *BinanceSource {
	return &BinanceSource{client: binance.NewClient(apiKey, apiSecret)}
}

// Candles returns the most recent limit bars for the instrument.
func (s *BinanceSource) Candles(ctx context.Context, instrument string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(instrument).
		Interval(string(tf)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketdata: klines %s %s: %w", instrument, tf, err)
	}
	return convert(instrument, tf, klines)
}

// rangePageLimit is the maximum klines per request the endpoint allows.
const rangePageLimit = 1000

// CandlesRange returns all bars between start and end for replay runs,
// paging through the endpoint's per-request limit so long date ranges are
// never truncated.
func (s *BinanceSource) CandlesRange(ctx context.Context, instrument string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	fetch := func(startMs int64) ([]*binance.Kline, error) {
		return s.client.NewKlinesService().
			Symbol(instrument).
			Interval(string(tf)).
			StartTime(startMs).
			EndTime(end.UnixMilli()).
			Limit(rangePageLimit).
			Do(ctx)
	}
	klines, err := collectRange(start.UnixMilli(), fetch)
	if err != nil {
		return nil, fmt.Errorf("marketdata: klines range %s %s: %w", instrument, tf, err)
	}
	return convert(instrument, tf, klines)
}

// collectRange pages through klines until a short page signals the range is
// exhausted. Each page resumes just past the previous page's last close.
func collectRange(startMs int64, fetch func(startMs int64) ([]*binance.Kline, error)) ([]*binance.Kline, error) {
	var all []*binance.Kline
	cursor := startMs
	for {
		page, err := fetch(cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < rangePageLimit {
			return all, nil
		}
		next := page[len(page)-1].CloseTime + 1
		if next <= cursor {
			// A non-advancing cursor would loop forever on a misbehaving
			// endpoint; stop with what we have.
			return all, nil
		}
		cursor = next
	}
}

// convert parses the string-typed kline fields into candles.
func convert(instrument string, tf domain.Timeframe, klines []*binance.Kline) ([]domain.Candle, error) {
	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		open, err := strconv.ParseFloat(k.Open, 64)
		if err != nil {
			return nil, fmt.Errorf("marketdata: parse open %q: %w", k.Open, err)
		}
		high, err := strconv.ParseFloat(k.High, 64)
		if err != nil {
			return nil, fmt.Errorf("marketdata: parse high %q: %w", k.High, err)
		}
		low, err := strconv.ParseFloat(k.Low, 64)
		if err != nil {
			return nil, fmt.Errorf("marketdata: parse low %q: %w", k.Low, err)
		}
		cls, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, fmt.Errorf("marketdata: parse close %q: %w", k.Close, err)
		}
		volume, err := strconv.ParseFloat(k.Volume, 64)
		if err != nil {
			return nil, fmt.Errorf("marketdata: parse volume %q: %w", k.Volume, err)
		}

		candles = append(candles, domain.Candle{
			Instrument: instrument,
			Timeframe:  tf,
			OpenTime:   time.UnixMilli(k.OpenTime),
			CloseTime:  time.UnixMilli(k.CloseTime),
			Open:       open,
			High:       high,
			Low:        low,
			Close:      cls,
			Volume:     volume,
		})
	}
	return candles, nil
}

// Compile-time interface check.
var _ domain.CandleSource = (*BinanceSource)(nil)
