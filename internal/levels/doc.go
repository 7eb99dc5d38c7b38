// Package levels tracks structural price levels and classifies trades against them.
//
// The Monitor keeps a per-symbol level snapshot loaded from a Store, swaps it
// atomically on reload, and turns each trade into Approach, Touch or Breach
// interactions. Recent interactions are kept in a bounded ring.
package levels
