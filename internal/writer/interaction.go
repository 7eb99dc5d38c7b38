package writer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/levelwatch/internal/model"
)

const insertInteractionSQL = `
	INSERT INTO level_interactions
		(id, symbol, price, volume, side, level_type, level_price, kind, distance, priority, ts)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`

// InteractionWriter archives level interactions. Touches and breaches also
// bump the touch counters of the stored level when a TouchRecorder is set.
type InteractionWriter struct {
	*batchWriter[model.LevelInteraction]

	touches     TouchRecorder
	tradingDate func() time.Time
}

// NewInteractionWriter creates a new InteractionWriter. touches may be nil;
// tradingDate supplies the date touch counters are recorded against.
func NewInteractionWriter(
	cfg WriterConfig,
	db BatchSender,
	touches TouchRecorder,
	tradingDate func() time.Time,
	logger *slog.Logger,
) *InteractionWriter {
	w := &InteractionWriter{
		batchWriter: newBatchWriter[model.LevelInteraction]("interaction_writer", cfg, db, logger),
		touches:     touches,
		tradingDate: tradingDate,
	}
	w.queue = queueInteraction
	if touches != nil {
		w.afterFlush = w.recordTouches
	}
	return w
}

// OnInteraction queues an interaction. It never blocks.
func (w *InteractionWriter) OnInteraction(in model.LevelInteraction) error {
	return w.push(in)
}

func queueInteraction(b *pgx.Batch, in model.LevelInteraction) {
	b.Queue(insertInteractionSQL,
		uuid.New(),
		in.Symbol,
		in.Price,
		in.Volume,
		in.Side.String(),
		in.LevelType,
		in.LevelPrice,
		in.Kind.String(),
		in.Distance,
		in.Priority.String(),
		in.Timestamp,
	)
}

// recordTouches updates stored counters for touches and breaches.
func (w *InteractionWriter) recordTouches(ctx context.Context, recs []model.LevelInteraction) {
	date := time.Now()
	if w.tradingDate != nil {
		date = w.tradingDate()
	}

	for _, in := range recs {
		if in.Kind != model.InteractionTouch && in.Kind != model.InteractionBreach {
			continue
		}
		found, err := w.touches.RecordTouch(ctx, in.Symbol, in.LevelType, date, in.Timestamp)
		w.batchMu.Lock()
		switch {
		case err != nil:
			w.metrics.TouchErrors++
		case found:
			w.metrics.TouchesRecorded++
		}
		w.batchMu.Unlock()
		if err != nil {
			w.logger.Warn("record touch failed", "symbol", in.Symbol, "level_type", in.LevelType, "error", err)
		}
	}
}
