// Package model defines the shared data types passed between the feed client,
// the level monitor and the alert engine.
//
// Conventions:
//   - Prices: float64 index points, as delivered by the exchange feed
//   - Timestamps: time.Time in UTC
//   - Alert IDs: uuid.UUID
//
// Ticks, interactions and alerts are facts: once constructed they are passed
// by value and never mutated.
package model
