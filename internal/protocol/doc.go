// Package protocol encodes and decodes the binary frames exchanged with the
// R|Protocol market-data plant.
//
// Every websocket binary message carries exactly one protocol-buffer message.
// All messages share field 154467 (template_id), which identifies the schema;
// TemplateOf reads only that field so callers can route a frame before paying
// for a full decode.
//
// Only the templates this service consumes or produces are modelled:
//
//	10/11   login request/response
//	18/19   heartbeat request/response
//	100/101 market data update request/response
//	150     last trade
//	151     best bid offer
//
// Unknown fields inside a known template are skipped.
package protocol
