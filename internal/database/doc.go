// Package database provides the PostgreSQL connection pool and the level
// store.
//
// One database holds:
//   - structural_levels: per symbol and trading date level prices, with touch counters
//   - level_interactions: archived monitor interactions
//   - alerts: archived delivered alerts
package database
