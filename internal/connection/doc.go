// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Opens one duplex WebSocket channel per Connection (ws:// or wss://)
//   - Tracks the lifecycle CONNECTING -> OPEN -> CLOSING -> CLOSED
//   - Sends an optional greeting exactly once when the channel first opens
//   - Fans inbound text frames out to registered handlers, in arrival order
//   - Serializes outbound frames through a single writer
//   - Reports transport failures as an ERROR event followed by CLOSED
//
// Handlers run on a per-connection dispatcher goroutine, one at a time.
// A state handler registered after the channel is already OPEN still
// observes exactly one CONNECTING -> OPEN event.
//
// Reconnection is not performed here; callers open a fresh Connection
// (see package supervisor).
package connection
