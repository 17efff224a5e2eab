// Package strategy defines the evaluator contract and the built-in
// Bollinger-band reversal evaluator.
package strategy

import (
	"context"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// Evaluator classifies a window of bars as an entry opportunity or not. It
// returns at most one candidate per evaluation and nil when there is nothing
// to do. Implementations must be safe for concurrent use: the scheduler
// evaluates instruments in parallel.
type Evaluator interface {
	Name() string
	// Fingerprint is a stable hash of the evaluator's configuration; it
	// scopes signal dedup so differently-tuned evaluators never suppress
	// each other.
	Fingerprint() string
	Evaluate(ctx context.Context, instrument string, bars []domain.Candle) (*domain.SignalCandidate, error)
}
