// Package writer implements the batch writers that archive level
// interactions and alerts to PostgreSQL.
//
// Writers:
//   - Interaction writer (level_interactions, plus touch counters on
//     structural_levels)
//   - Alert writer (alerts)
//
// Both accept records as listeners, queue them without blocking the caller
// and insert them with pgx.Batch on a size or time trigger. Rows are
// append-only.
package writer
