// Package connection implements the market-data protocol client.
//
// A Client owns one TLS websocket session to a ticker plant:
//   - Logs in and subscribes to the configured symbols
//   - Demultiplexes binary frames by template_id through internal/router
//   - Sends protocol heartbeats when the feed goes quiet
//   - Reconnects with a linear backoff after losing an authenticated session
//   - Classifies each trade as buyer or seller initiated
//
// Observers register per-symbol tick listeners and state listeners. Ticks for
// one symbol are delivered in arrival order on a single goroutine.
package connection
