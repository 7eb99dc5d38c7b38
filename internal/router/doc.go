// Package router implements the inbound frame demultiplexer.
//
// The Router:
//   - Reads the template_id envelope of each frame
//   - Dispatches to a handler from a table fixed at construction
//   - Drops unknown templates at debug level
//   - Counts malformed frames and handler failures instead of failing
//
// Routing is synchronous so frames reach handlers in transport order.
package router
