package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/bandbot/internal/domain"
)

// BlobWriter is the narrow upload interface the archiver needs. *Writer
// satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// RunArchiver uploads the completed trades of a run as a JSONL object.
// Archival is best-effort: it reads from the trade log, which is already
// the durable record, so an upload failure never loses data.
type RunArchiver struct {
	writer BlobWriter
	trades domain.TradeLog
}

// NewRunArchiver creates a new RunArchiver.
func NewRunArchiver(writer BlobWriter, trades domain.TradeLog) *RunArchiver {
	return &RunArchiver{
		writer: writer,
		trades: trades,
	}
}

// ArchiveRun queries all trades recorded under runID, serializes them to
// JSONL, and uploads the file at archive/runs/YYYY-MM-DD/<runID>.jsonl.
// Runs with no completed trades upload nothing. Returns the number of
// records archived.
func (a *RunArchiver) ArchiveRun(ctx context.Context, runID string, finished time.Time) (int64, error) {
	recs, err := a.trades.ListByRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive run query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive run marshal: %w", err)
	}

	path := runArchivePath(runID, finished)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive run upload: %w", err)
	}

	return int64(len(recs)), nil
}

// runArchivePath builds the S3 key for a run archive, partitioned by the
// day the run finished.
//
//	archive/runs/2026-08-29/3f1c9a7e.jsonl
func runArchivePath(runID string, finished time.Time) string {
	return fmt.Sprintf("archive/runs/%s/%s.jsonl", finished.Format("2006-01-02"), runID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
