package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

type captureWriter struct {
	path        string
	contentType string
	body        []byte
	calls       int
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.calls++
	w.path = path
	w.contentType = contentType
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.body = b
	return nil
}

type staticLog struct {
	recs []domain.TradeRecord
}

func (l *staticLog) Append(context.Context, domain.TradeRecord) error { return nil }
func (l *staticLog) ListByRun(context.Context, string) ([]domain.TradeRecord, error) {
	return l.recs, nil
}

func archiveRecord(orderID string, pnl string) domain.TradeRecord {
	return domain.TradeRecord{
		RunID: "run-1",
		Order: domain.Order{
			ID:         orderID,
			Instrument: "EURUSD",
			Direction:  domain.SignalLong,
			State:      domain.OrderStateClosed,
			Entry:      decimal.RequireFromString("1.0850"),
			Size:       decimal.RequireFromString("100000"),
		},
		Outcome: domain.Outcome{
			OrderID: orderID,
			Kind:    domain.ExitTakeProfit,
			PnL:     decimal.RequireFromString(pnl),
		},
	}
}

func TestArchiveRunUploadsJSONL(t *testing.T) {
	w := &captureWriter{}
	a := NewRunArchiver(w, &staticLog{recs: []domain.TradeRecord{
		archiveRecord("ord-1", "2500.00"),
		archiveRecord("ord-2", "-1000.00"),
	}})

	finished := time.Date(2026, 8, 29, 17, 0, 0, 0, time.UTC)
	n, err := a.ArchiveRun(context.Background(), "run-1", finished)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.Equal(t, "archive/runs/2026-08-29/run-1.jsonl", w.path)
	require.Equal(t, "application/x-ndjson", w.contentType)

	lines := bytes.Split(bytes.TrimSpace(w.body), []byte("\n"))
	require.Len(t, lines, 2)
	require.True(t, strings.Contains(string(lines[0]), "ord-1"))
	require.True(t, strings.Contains(string(lines[1]), "ord-2"))
}

func TestArchiveRunSkipsEmptyRun(t *testing.T) {
	w := &captureWriter{}
	a := NewRunArchiver(w, &staticLog{})

	n, err := a.ArchiveRun(context.Background(), "run-1", time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, w.calls, "empty run should not upload")
}
