package notify

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/levelwatch/internal/model"
)

// Notifier delivers one message.
type Notifier interface {
	Send(ctx context.Context, message string, priority model.AlertPriority) bool
}

// LogNotifier logs messages. Useful without SMS credentials.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "log_notifier")}
}

// Send logs the message at a level matching its priority. Always succeeds.
func (n *LogNotifier) Send(ctx context.Context, message string, priority model.AlertPriority) bool {
	level := slog.LevelInfo
	if priority >= model.AlertHigh {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "ALERT", "priority", priority, "message", message)
	return true
}

// Multi sends to every notifier concurrently and succeeds if any did.
type Multi []Notifier

// Send fans the message out to all notifiers.
func (m Multi) Send(ctx context.Context, message string, priority model.AlertPriority) bool {
	var delivered atomic.Int32
	var g errgroup.Group
	for _, n := range m {
		g.Go(func() error {
			if n.Send(ctx, message, priority) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return delivered.Load() > 0
}

// withPrefix marks urgent messages so they stand out on a phone.
func withPrefix(message string, priority model.AlertPriority) string {
	switch priority {
	case model.AlertCritical:
		return "CRITICAL: " + message
	case model.AlertHigh:
		return "HIGH: " + message
	default:
		return message
	}
}
