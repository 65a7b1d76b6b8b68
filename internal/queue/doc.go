// Package queue provides an unbounded FIFO that grows in place.
//
// Used for:
//   - Per-connection event dispatch (lifecycle, message and error events)
//   - Batching inbound messages for the Postgres sink
package queue
