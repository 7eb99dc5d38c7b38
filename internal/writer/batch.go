package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/levelwatch/internal/buffer"
)

// batchWriter queues records and inserts them in batches. The concrete
// writers supply the INSERT for one record and an optional hook that runs
// after a successful flush.
type batchWriter[T any] struct {
	name   string
	cfg    WriterConfig
	logger *slog.Logger

	input *buffer.Queue[T]
	db    BatchSender

	queue      func(b *pgx.Batch, rec T)
	afterFlush func(ctx context.Context, recs []T)

	// Batching
	batch       []T
	batchMu     sync.Mutex
	flushMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

func newBatchWriter[T any](name string, cfg WriterConfig, db BatchSender, logger *slog.Logger) *batchWriter[T] {
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &batchWriter[T]{
		name:   name,
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", name),
		input:  buffer.NewQueue[T](cfg.BufferSize),
		batch:  make([]T, 0, cfg.BatchSize),
	}
}

// push enqueues a record without blocking.
func (w *batchWriter[T]) push(rec T) error {
	if !w.input.Push(rec) {
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		return ErrClosed
	}
	w.batchMu.Lock()
	w.metrics.Queued++
	w.batchMu.Unlock()
	return nil
}

// Start begins consuming records and writing to the database. The loops
// run until Stop; ctx only bounds startup.
func (w *batchWriter[T]) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop closes the input, waits for the loops and flushes whatever is left
// using ctx.
func (w *batchWriter[T]) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
		return ctx.Err()
	}

	// Final flush
	for _, rec := range w.input.Drain(0) {
		w.batchMu.Lock()
		w.batch = append(w.batch, rec)
		w.batchMu.Unlock()
	}
	w.flush(ctx)

	w.logger.Info("writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *batchWriter[T]) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves queued records into the batch.
func (w *batchWriter[T]) consumeLoop() {
	defer w.wg.Done()

	for {
		recs := w.input.Drain(w.cfg.BatchSize)
		if len(recs) == 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		for _, rec := range recs {
			w.add(rec)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *batchWriter[T]) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends a record and flushes when the batch is full.
func (w *batchWriter[T]) add(rec T) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		ctx := w.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		w.flush(ctx)
	}
}

// flush writes the current batch. A failed batch is logged and discarded.
func (w *batchWriter[T]) flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	recs := w.batch
	w.batch = make([]T, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, recs)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(recs))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(recs) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	if w.afterFlush != nil {
		w.afterFlush(ctx, recs)
	}

	w.logger.Debug("flushed batch",
		"count", len(recs),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert sends one pgx.Batch with a statement per record.
func (w *batchWriter[T]) batchInsert(ctx context.Context, recs []T) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, rec := range recs {
		w.queue(batch, rec)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range recs {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
