package domain

import (
	"fmt"
	"math"
	"time"
)

// SignalKind is the direction of a trading signal.
type SignalKind string

const (
	SignalLong  SignalKind = "long"
	SignalShort SignalKind = "short"
)

// Sign returns +1 for long signals and -1 for short signals.
func (k SignalKind) Sign() int {
	if k == SignalShort {
		return -1
	}
	return 1
}

// SignalCandidate is an entry opportunity produced by a strategy evaluator.
// It is immutable once produced; the signal cache decides whether it is new
// and the lifecycle manager turns it into an order.
type SignalCandidate struct {
	Instrument  string
	Kind        SignalKind
	Price       float64
	ATR         float64 // volatility at signal time, used for stop sizing
	Time        time.Time
	Fingerprint string            // hash of the evaluator's configuration
	Params      map[string]string // parameter snapshot recorded with the trade
}

// PriceBucket rounds price down to the tolerance bucket used for dedup.
// When pct is true, tolerance is a fraction of the price itself; otherwise it
// is an absolute width. Two candidates in the same bucket are the same signal.
func PriceBucket(price, tolerance float64, pct bool) string {
	width := tolerance
	if pct {
		width = math.Abs(price) * tolerance
	}
	if width <= 0 {
		return fmt.Sprintf("%.8f", price)
	}
	return fmt.Sprintf("%.8f", math.Floor(price/width)*width)
}

// CacheKey derives the deterministic dedup key for this candidate:
// instrument, evaluator fingerprint, direction, and bucketed price.
func (c SignalCandidate) CacheKey(tolerance float64, pct bool) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.Instrument, c.Fingerprint, c.Kind, PriceBucket(c.Price, tolerance, pct))
}
