package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// TradeLogStore implements domain.TradeLog using PostgreSQL. Prices are
// stored as NUMERIC and round-tripped through strings so no precision is
// lost between the lifecycle manager and the database.
type TradeLogStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeLog = (*TradeLogStore)(nil)

// NewTradeLogStore creates a new TradeLogStore backed by the given connection pool.
func NewTradeLogStore(pool *pgxpool.Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

const tradeLogSelectCols = `run_id, order_id, instrument, direction, timeframe,
	entry_price, stop_loss, take_profit, size, opened_at, state, params,
	exit_kind, exit_price, exited_at, pnl, account_before, account_after`

// Append inserts one completed trade. Re-inserting the same order id is a
// no-op so a retried terminal transition never duplicates a row.
func (s *TradeLogStore) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_log (
			run_id, order_id, instrument, direction, timeframe,
			entry_price, stop_loss, take_profit, size, opened_at, state, params,
			exit_kind, exit_price, exited_at, pnl, account_before, account_after
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		) ON CONFLICT (order_id) DO NOTHING`

	o, out := rec.Order, rec.Outcome
	_, err := s.pool.Exec(ctx, query,
		rec.RunID, o.ID, o.Instrument, string(o.Direction), string(o.Timeframe),
		o.Entry.String(), o.StopLoss.String(), o.TakeProfit.String(),
		o.Size.String(), o.OpenedAt, string(o.State), o.Params,
		string(out.Kind), out.ExitPrice.String(), out.ExitedAt,
		out.PnL.String(), out.AccountBefore.String(), out.AccountAfter.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", o.ID, err)
	}
	return nil
}

// ListByRun returns all trades recorded for a run, ordered by exit time.
func (s *TradeLogStore) ListByRun(ctx context.Context, runID string) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeLogSelectCols + ` FROM trade_log WHERE run_id = $1 ORDER BY exited_at ASC`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by run: %w", err)
	}
	defer rows.Close()

	recs, err := scanTradeRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by run: %w", err)
	}
	return recs, nil
}

func scanTradeRecords(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var recs []domain.TradeRecord
	for rows.Next() {
		var (
			rec                                       domain.TradeRecord
			direction, timeframe, state, exitKind     string
			entry, stop, take, size                   string
			exitPrice, pnl, accountBefore, accountAft string
		)
		if err := rows.Scan(
			&rec.RunID, &rec.Order.ID, &rec.Order.Instrument, &direction, &timeframe,
			&entry, &stop, &take, &size, &rec.Order.OpenedAt, &state, &rec.Order.Params,
			&exitKind, &exitPrice, &rec.Outcome.ExitedAt, &pnl, &accountBefore, &accountAft,
		); err != nil {
			return nil, err
		}

		rec.Order.Direction = domain.SignalKind(direction)
		rec.Order.Timeframe = domain.Timeframe(timeframe)
		rec.Order.State = domain.OrderState(state)
		rec.Outcome.OrderID = rec.Order.ID
		rec.Outcome.Kind = domain.ExitKind(exitKind)

		var err error
		if rec.Order.Entry, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("parse entry_price: %w", err)
		}
		if rec.Order.StopLoss, err = decimal.NewFromString(stop); err != nil {
			return nil, fmt.Errorf("parse stop_loss: %w", err)
		}
		if rec.Order.TakeProfit, err = decimal.NewFromString(take); err != nil {
			return nil, fmt.Errorf("parse take_profit: %w", err)
		}
		if rec.Order.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("parse size: %w", err)
		}
		if rec.Outcome.ExitPrice, err = decimal.NewFromString(exitPrice); err != nil {
			return nil, fmt.Errorf("parse exit_price: %w", err)
		}
		if rec.Outcome.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse pnl: %w", err)
		}
		if rec.Outcome.AccountBefore, err = decimal.NewFromString(accountBefore); err != nil {
			return nil, fmt.Errorf("parse account_before: %w", err)
		}
		if rec.Outcome.AccountAfter, err = decimal.NewFromString(accountAft); err != nil {
			return nil, fmt.Errorf("parse account_after: %w", err)
		}

		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
