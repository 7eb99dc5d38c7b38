package router

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/levelwatch/internal/protocol"
)

// Router dispatches frames by template_id.
type Router struct {
	handlers Table
	logger   *slog.Logger

	received        atomic.Int64
	routed          atomic.Int64
	parseErrors     atomic.Int64
	handlerErrors   atomic.Int64
	unknownMessages atomic.Int64
}

// New creates a Router. The table is copied; later changes to it are ignored.
func New(handlers Table, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	table := make(Table, len(handlers))
	for id, h := range handlers {
		table[id] = h
	}

	return &Router{
		handlers: table,
		logger:   logger,
	}
}

// Route decodes the envelope of one frame and dispatches it.
func (r *Router) Route(data []byte, receivedAt time.Time) {
	r.received.Add(1)

	id, err := protocol.TemplateOf(data)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Warn("failed to read template id", "error", err, "bytes", len(data))
		return
	}

	h, ok := r.handlers[id]
	if !ok {
		r.unknownMessages.Add(1)
		r.logger.Debug("dropping unhandled template", "template_id", id)
		return
	}

	if err := h(Frame{TemplateID: id, Data: data, ReceivedAt: receivedAt}); err != nil {
		if errors.Is(err, protocol.ErrMalformedFrame) {
			r.parseErrors.Add(1)
		} else {
			r.handlerErrors.Add(1)
		}
		r.logger.Warn("failed to handle frame", "template_id", id, "error", err)
		return
	}

	r.routed.Add(1)
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		HandlerErrors:    r.handlerErrors.Load(),
		UnknownMessages:  r.unknownMessages.Load(),
	}
}
