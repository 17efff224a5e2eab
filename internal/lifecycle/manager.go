// Package lifecycle owns the order state machine: Pending → Open → {Closed |
// Cancelled}. Orders are created, advanced, and closed here and nowhere else;
// all accounting runs on decimals so realized P&L reproduces exactly for
// identical inputs, independent of live market slippage.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// PlacementFunc performs the side effect of putting an order into the market
// (broker submission, paper-trade registration, ...). A nil PlacementFunc
// means placement always succeeds. When it fails the order is cancelled
// without ever reaching Open.
type PlacementFunc func(ctx context.Context, ord *domain.Order) error

// Config holds sizing and exposure parameters for the manager.
type Config struct {
	AccountValue  float64
	RiskPct       float64 // percent of account risked per trade
	ATRMultiplier float64
	RiskReward    float64
	MaxPositions  int // concurrent-position ceiling per instrument
	// Lifetime returns the maximum order lifetime for a timeframe.
	Lifetime func(domain.Timeframe) time.Duration
}

// Manager is the order lifecycle manager. All transitions go through its
// mutex, so advancing a given order is serialized while different callers may
// work different instruments.
type Manager struct {
	riskPct  decimal.Decimal
	atrMult  decimal.Decimal
	rr       decimal.Decimal
	ceiling  int
	lifetime func(domain.Timeframe) time.Duration

	place  PlacementFunc
	log    domain.TradeLog // nil = artifacts not persisted
	runID  string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	account   decimal.Decimal
	book      map[string][]*domain.Order // instrument -> non-terminal orders
	lastClose map[string]decimal.Decimal // most recent bar close seen per instrument
	closed    int
}

// New creates a Manager. tradeLog may be nil (replay without persistence);
// place may be nil (placement always succeeds).
func New(cfg Config, tradeLog domain.TradeLog, place PlacementFunc, runID string, logger *slog.Logger) *Manager {
	lifetime := cfg.Lifetime
	if lifetime == nil {
		lifetime = func(tf domain.Timeframe) time.Duration { return 10 * tf.Duration() }
	}
	return &Manager{
		riskPct:   decimal.NewFromFloat(cfg.RiskPct),
		atrMult:   decimal.NewFromFloat(cfg.ATRMultiplier),
		rr:        decimal.NewFromFloat(cfg.RiskReward),
		ceiling:   cfg.MaxPositions,
		lifetime:  lifetime,
		place:     place,
		log:       tradeLog,
		runID:     runID,
		logger:    logger.With(slog.String("component", "lifecycle")),
		now:       time.Now,
		account:   decimal.NewFromFloat(cfg.AccountValue),
		book:      make(map[string][]*domain.Order),
		lastClose: make(map[string]decimal.Decimal),
	}
}

// Open creates a new order from the candidate: stop-loss at entry ∓
// ATR×multiplier, take-profit at entry ± stopDistance×R:R, size from the
// account-risk percentage. It returns domain.ErrPositionLimit when the
// instrument's concurrent-position ceiling would be exceeded; the ceiling is
// never silently breached.
func (m *Manager) Open(ctx context.Context, cand domain.SignalCandidate, tf domain.Timeframe) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.book[cand.Instrument]) >= m.ceiling {
		return nil, fmt.Errorf("lifecycle: open %s: %w", cand.Instrument, domain.ErrPositionLimit)
	}

	entry := decimal.NewFromFloat(cand.Price)
	stopDist := decimal.NewFromFloat(cand.ATR).Mul(m.atrMult)
	if !stopDist.IsPositive() {
		return nil, fmt.Errorf("lifecycle: open %s: non-positive stop distance (ATR %v)", cand.Instrument, cand.ATR)
	}

	var stop, take decimal.Decimal
	if cand.Kind == domain.SignalShort {
		stop = entry.Add(stopDist)
		take = entry.Sub(stopDist.Mul(m.rr))
	} else {
		stop = entry.Sub(stopDist)
		take = entry.Add(stopDist.Mul(m.rr))
	}

	riskAmount := m.account.Mul(m.riskPct).Div(decimal.NewFromInt(100))
	size := riskAmount.DivRound(stopDist, 8)

	ord := &domain.Order{
		ID:         uuid.NewString(),
		Instrument: cand.Instrument,
		Direction:  cand.Kind,
		Timeframe:  tf,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: take,
		Size:       size,
		OpenedAt:   cand.Time,
		State:      domain.OrderStatePending,
		Params:     cand.Params,
	}
	m.book[cand.Instrument] = append(m.book[cand.Instrument], ord)

	if m.place != nil {
		if err := m.place(ctx, ord); err != nil {
			m.cancelLocked(ord, "placement failed")
			return nil, fmt.Errorf("lifecycle: place order %s: %w", ord.ID, err)
		}
	}
	ord.State = domain.OrderStateOpen

	m.logger.InfoContext(ctx, "order opened",
		slog.String("order_id", ord.ID),
		slog.String("instrument", ord.Instrument),
		slog.String("direction", string(ord.Direction)),
		slog.String("entry", entry.String()),
		slog.String("stop_loss", stop.String()),
		slog.String("take_profit", take.String()),
		slog.String("size", size.String()),
	)
	return ord, nil
}

// Cancel transitions a Pending order to Cancelled. No Outcome is recorded.
// Orders that already reached Open cannot be cancelled, only closed.
func (m *Manager) Cancel(ctx context.Context, ord *domain.Order, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ord.State != domain.OrderStatePending {
		return fmt.Errorf("lifecycle: cancel %s in state %s: %w", ord.ID, ord.State, domain.ErrOrderTerminal)
	}
	m.cancelLocked(ord, reason)
	m.logger.InfoContext(ctx, "order cancelled",
		slog.String("order_id", ord.ID),
		slog.String("reason", reason),
	)
	return nil
}

// cancelLocked marks ord Cancelled and drops it from the book. Caller holds
// the mutex.
func (m *Manager) cancelLocked(ord *domain.Order, _ string) {
	ord.State = domain.OrderStateCancelled
	m.removeLocked(ord)
}

// Advance evaluates every open order on the bar's instrument against the
// bar's traded range, in priority order: stop-loss touch closes at the stop
// price verbatim; else take-profit touch closes at the take-profit price
// verbatim; else lifetime expiry closes at the bar's close; else the order
// stays Open. The exit price for stop/take-profit is never the observed
// market price.
func (m *Manager) Advance(ctx context.Context, bar domain.Candle) []domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastClose[bar.Instrument] = decimal.NewFromFloat(bar.Close)

	var outcomes []domain.Outcome
	for _, ord := range append([]*domain.Order(nil), m.book[bar.Instrument]...) {
		if ord.State != domain.OrderStateOpen {
			continue
		}

		kind, exit, hit := m.exitFor(ord, bar)
		if !hit {
			continue
		}
		outcomes = append(outcomes, m.closeLocked(ctx, ord, kind, exit, bar.CloseTime))
	}
	return outcomes
}

// exitFor applies the transition priority for one order against one bar.
func (m *Manager) exitFor(ord *domain.Order, bar domain.Candle) (domain.ExitKind, decimal.Decimal, bool) {
	low := decimal.NewFromFloat(bar.Low)
	high := decimal.NewFromFloat(bar.High)

	if ord.Direction == domain.SignalLong {
		if low.LessThanOrEqual(ord.StopLoss) {
			return domain.ExitStopLoss, ord.StopLoss, true
		}
		if high.GreaterThanOrEqual(ord.TakeProfit) {
			return domain.ExitTakeProfit, ord.TakeProfit, true
		}
	} else {
		if high.GreaterThanOrEqual(ord.StopLoss) {
			return domain.ExitStopLoss, ord.StopLoss, true
		}
		if low.LessThanOrEqual(ord.TakeProfit) {
			return domain.ExitTakeProfit, ord.TakeProfit, true
		}
	}

	if bar.CloseTime.Sub(ord.OpenedAt) > m.lifetime(ord.Timeframe) {
		return domain.ExitTimeExpired, decimal.NewFromFloat(bar.Close), true
	}
	return "", decimal.Decimal{}, false
}

// ForceCloseAll terminates every remaining non-terminal order: Open orders
// close with kind run_end, Pending orders are cancelled. The exit price is
// the supplied current price when given, else the instrument's last observed
// bar close, else the entry price for instruments never advanced. After it
// returns, no order is left non-terminal.
func (m *Manager) ForceCloseAll(ctx context.Context, prices map[string]float64) []domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var outcomes []domain.Outcome
	now := m.now()
	for instrument, orders := range m.book {
		for _, ord := range append([]*domain.Order(nil), orders...) {
			switch ord.State {
			case domain.OrderStatePending:
				m.cancelLocked(ord, "run end")
			case domain.OrderStateOpen:
				exit := ord.Entry
				if last, ok := m.lastClose[instrument]; ok {
					exit = last
				}
				if p, ok := prices[instrument]; ok {
					exit = decimal.NewFromFloat(p)
				}
				outcomes = append(outcomes, m.closeLocked(ctx, ord, domain.ExitRunEnd, exit, now))
			}
		}
	}
	return outcomes
}

// closeLocked performs the terminal Closed transition: computes P&L, applies
// it to the account, drops the order from the book, and appends the trade
// record immediately. Caller holds the mutex.
func (m *Manager) closeLocked(ctx context.Context, ord *domain.Order, kind domain.ExitKind, exit decimal.Decimal, at time.Time) domain.Outcome {
	pnl := domain.RealizedPnL(ord.Direction, ord.Entry, exit, ord.Size)
	before := m.account
	m.account = m.account.Add(pnl)

	ord.State = domain.OrderStateClosed
	m.removeLocked(ord)
	m.closed++

	out := domain.Outcome{
		OrderID:       ord.ID,
		Kind:          kind,
		ExitPrice:     exit,
		ExitedAt:      at,
		PnL:           pnl,
		AccountBefore: before,
		AccountAfter:  m.account,
	}

	m.logger.InfoContext(ctx, "order closed",
		slog.String("order_id", ord.ID),
		slog.String("instrument", ord.Instrument),
		slog.String("exit_kind", string(kind)),
		slog.String("exit_price", exit.String()),
		slog.String("pnl", pnl.String()),
		slog.String("account", m.account.String()),
	)

	if m.log != nil {
		rec := domain.TradeRecord{RunID: m.runID, Order: *ord, Outcome: out}
		if err := m.log.Append(ctx, rec); err != nil {
			m.logger.ErrorContext(ctx, "trade log append failed",
				slog.String("order_id", ord.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return out
}

// removeLocked drops ord from its instrument's book slice.
func (m *Manager) removeLocked(ord *domain.Order) {
	orders := m.book[ord.Instrument]
	for i, o := range orders {
		if o.ID == ord.ID {
			m.book[ord.Instrument] = append(orders[:i], orders[i+1:]...)
			break
		}
	}
	if len(m.book[ord.Instrument]) == 0 {
		delete(m.book, ord.Instrument)
	}
}

// AccountValue returns the current account value.
func (m *Manager) AccountValue() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account
}

// OpenOrders returns a snapshot of all non-terminal orders.
func (m *Manager) OpenOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, orders := range m.book {
		for _, ord := range orders {
			out = append(out, *ord)
		}
	}
	return out
}

// ClosedCount returns the number of orders closed so far this run.
func (m *Manager) ClosedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
