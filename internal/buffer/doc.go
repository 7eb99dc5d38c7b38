// Package buffer provides the two in-memory containers used between
// components:
//
//   - Queue: an unbounded FIFO that doubles its capacity at 70% fill. The tick
//     path pushes into it without blocking; archive writers drain it in
//     batches.
//   - Ring: a fixed-capacity history that evicts the oldest entry on overflow.
//     Used for the interaction log and the alert history.
package buffer
