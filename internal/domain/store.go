package domain

import "context"

// TradeLog persists completed trades. Append is called synchronously at each
// terminal transition so that a crash loses at most the in-flight tick.
type TradeLog interface {
	Append(ctx context.Context, rec TradeRecord) error
	ListByRun(ctx context.Context, runID string) ([]TradeRecord, error)
}
