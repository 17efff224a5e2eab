package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"

	talib "github.com/markcheno/go-talib"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// BBandsParams configures the Bollinger-band reversal evaluator.
type BBandsParams struct {
	Period    int     // band lookback
	StdDev    float64 // band width in standard deviations
	ATRPeriod int     // volatility lookback for stop sizing
}

// DefaultBBandsParams returns the standard 20/2.0/14 configuration.
func DefaultBBandsParams() BBandsParams {
	return BBandsParams{Period: 20, StdDev: 2.0, ATRPeriod: 14}
}

// BBands signals band reversals: the prior bar closed beyond a band and the
// current bar closed back inside it. Longs come off the lower band, shorts
// off the upper.
type BBands struct {
	params      BBandsParams
	fingerprint string
	logger      *slog.Logger
}

// NewBBands creates the evaluator and precomputes its configuration
// fingerprint.
func NewBBands(params BBandsParams, logger *slog.Logger) *BBands {
	canonical := fmt.Sprintf("bbands:period=%d:stddev=%s:atr=%d",
		params.Period,
		strconv.FormatFloat(params.StdDev, 'f', -1, 64),
		params.ATRPeriod,
	)
	sum := sha256.Sum256([]byte(canonical))
	return &BBands{
		params:      params,
		fingerprint: hex.EncodeToString(sum[:])[:12],
		logger:      logger.With(slog.String("component", "bbands")),
	}
}

// Name returns the evaluator identifier.
func (b *BBands) Name() string { return "bbands_reversal" }

// Fingerprint returns the configuration hash.
func (b *BBands) Fingerprint() string { return b.fingerprint }

// Evaluate inspects the last two bars against the bands. When the prior bar
// closed outside a band and the current one reversed back inside, it emits a
// candidate priced at the current close with the current ATR attached. When
// both directions hold in the same bar the evaluator emits nothing.
func (b *BBands) Evaluate(ctx context.Context, instrument string, bars []domain.Candle) (*domain.SignalCandidate, error) {
	need := b.params.Period
	if b.params.ATRPeriod+1 > need {
		need = b.params.ATRPeriod + 1
	}
	if len(bars) < need {
		return nil, fmt.Errorf("bbands: %s: need %d bars, got %d", instrument, need, len(bars))
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
		highs[i] = bar.High
		lows[i] = bar.Low
	}

	upper, _, lower := talib.BBands(closes, b.params.Period, b.params.StdDev, b.params.StdDev, talib.SMA)
	atr := talib.Atr(highs, lows, closes, b.params.ATRPeriod)

	prev, cur := len(bars)-2, len(bars)-1

	longSetup := closes[prev] < lower[prev] && closes[cur] > lower[cur] && closes[cur] < upper[cur]
	shortSetup := closes[prev] > upper[prev] && closes[cur] < upper[cur] && closes[cur] > lower[cur]

	if longSetup && shortSetup {
		// Ambiguous bar: both reversals plausible at once. Emit nothing
		// rather than guess a direction.
		b.logger.WarnContext(ctx, "ambiguous reversal bar, skipping",
			slog.String("instrument", instrument),
			slog.Time("bar", bars[cur].CloseTime),
		)
		return nil, nil
	}

	var kind domain.SignalKind
	switch {
	case longSetup:
		kind = domain.SignalLong
	case shortSetup:
		kind = domain.SignalShort
	default:
		return nil, nil
	}

	if atr[cur] <= 0 {
		return nil, fmt.Errorf("bbands: %s: non-positive ATR %v", instrument, atr[cur])
	}

	return &domain.SignalCandidate{
		Instrument:  instrument,
		Kind:        kind,
		Price:       closes[cur],
		ATR:         atr[cur],
		Time:        bars[cur].CloseTime,
		Fingerprint: b.fingerprint,
		Params: map[string]string{
			"strategy":   b.Name(),
			"bb_period":  strconv.Itoa(b.params.Period),
			"bb_stddev":  strconv.FormatFloat(b.params.StdDev, 'f', -1, 64),
			"atr_period": strconv.Itoa(b.params.ATRPeriod),
		},
	}, nil
}

// Compile-time interface check.
var _ Evaluator = (*BBands)(nil)
