package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState tracks the order lifecycle. Pending and Open are the only
// non-terminal states.
type OrderState string

const (
	OrderStatePending   OrderState = "pending"
	OrderStateOpen      OrderState = "open"
	OrderStateClosed    OrderState = "closed"
	OrderStateCancelled OrderState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s OrderState) Terminal() bool {
	return s == OrderStateClosed || s == OrderStateCancelled
}

// ExitKind records how a closed order left the market.
type ExitKind string

const (
	ExitStopLoss    ExitKind = "stop_loss"
	ExitTakeProfit  ExitKind = "take_profit"
	ExitTimeExpired ExitKind = "time_expired"
	ExitRunEnd      ExitKind = "run_end"
)

// Order is a tracked position. It is created and mutated only by the
// lifecycle manager; prices are held as decimals so accounting is exact.
type Order struct {
	ID         string
	Instrument string
	Direction  SignalKind
	Timeframe  Timeframe
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Size       decimal.Decimal
	OpenedAt   time.Time
	State      OrderState
	Params     map[string]string // evaluator snapshot active at open time
}

// Outcome is the append-only exit record attached to an order at the moment
// it transitions to Closed. ExitPrice is the stop/take-profit level verbatim
// for those exit kinds; only time_expired and run_end use the observed price.
type Outcome struct {
	OrderID       string
	Kind          ExitKind
	ExitPrice     decimal.Decimal
	ExitedAt      time.Time
	PnL           decimal.Decimal
	AccountBefore decimal.Decimal
	AccountAfter  decimal.Decimal
}

// TradeRecord is the persisted artifact for one completed order: the full
// order plus its outcome, written immediately on the terminal transition.
type TradeRecord struct {
	RunID   string
	Order   Order
	Outcome Outcome
}

// RealizedPnL computes (exit − entry) × size × direction sign, rounded to
// cents. The formula is uniform across exit kinds; only the exit price
// selection differs. It is a pure function of its inputs.
func RealizedPnL(dir SignalKind, entry, exit, size decimal.Decimal) decimal.Decimal {
	pnl := exit.Sub(entry).Mul(size)
	if dir == SignalShort {
		pnl = pnl.Neg()
	}
	return pnl.Round(2)
}
