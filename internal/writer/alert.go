package writer

import (
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/levelwatch/internal/model"
)

const insertAlertSQL = `
	INSERT INTO alerts
		(id, symbol, kind, priority, message, price, rule_id, level_type, level_price, ts)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING`

// AlertWriter archives emitted alerts.
type AlertWriter struct {
	*batchWriter[model.Alert]
}

// NewAlertWriter creates a new AlertWriter.
func NewAlertWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *AlertWriter {
	w := &AlertWriter{
		batchWriter: newBatchWriter[model.Alert]("alert_writer", cfg, db, logger),
	}
	w.queue = queueAlert
	return w
}

// OnAlert queues an alert. It never blocks.
func (w *AlertWriter) OnAlert(a model.Alert) error {
	return w.push(a)
}

func queueAlert(b *pgx.Batch, a model.Alert) {
	var (
		ruleID     *string
		levelType  *string
		levelPrice *float64
	)
	if a.RuleID != "" {
		ruleID = &a.RuleID
	}
	if a.HasLevel() {
		levelType = &a.LevelType
		levelPrice = &a.LevelPrice
	}

	b.Queue(insertAlertSQL,
		a.ID,
		a.Symbol,
		a.Kind.String(),
		a.Priority.String(),
		a.Message,
		a.Price,
		ruleID,
		levelType,
		levelPrice,
		a.Timestamp,
	)
}
