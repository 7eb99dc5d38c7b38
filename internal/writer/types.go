package writer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrClosed is returned when a record arrives after the writer stopped.
var ErrClosed = errors.New("writer closed")

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the input queue.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		BufferSize:    1000,
	}
}

// BatchSender is the subset of pgxpool.Pool the writers need.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TouchRecorder bumps touch counters on stored levels.
type TouchRecorder interface {
	RecordTouch(ctx context.Context, symbol, levelType string, date, at time.Time) (bool, error)
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Queued    int64
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64

	// Interaction writer only
	TouchesRecorded int64
	TouchErrors     int64
}
