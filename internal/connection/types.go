package connection

import (
	"net/http"
	"time"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MessageHandler receives one inbound text payload.
type MessageHandler func(payload string)

// StateHandler receives one lifecycle transition.
type StateHandler func(from, to State)

// ErrorHandler receives asynchronous transport failures (*TransportError).
type ErrorHandler func(err error)

// CloseStatus is the close code and reason observed for a Connection.
// Code is 0 until the connection starts closing.
type CloseStatus struct {
	Code   int
	Reason string
}

// Stats holds per-connection counters.
type Stats struct {
	Received int64 // Text frames read from the peer
	Sent     int64 // Text frames written to the peer
	Dropped  int64 // Inbound frames discarded (no handler, or close requested)
}

// Options configures connections opened by a Manager.
type Options struct {
	HandshakeTimeout time.Duration // Max time for the opening handshake
	WriteTimeout     time.Duration // Write deadline per frame
	PingInterval     time.Duration // Interval between keepalive pings
	PongTimeout      time.Duration // Max time without a pong before the channel is stale
	CloseTimeout     time.Duration // Max wait for the peer's close frame
	MaxMessageSize   int64         // Inbound frame size limit in bytes
	SendBufferSize   int           // Outbound frame queue length
	ReadBufferSize   int           // Transport read buffer (0 = library default)
	WriteBufferSize  int           // Transport write buffer (0 = library default)
	Header           http.Header   // Extra handshake headers
	Greeting         string        // Sent once when the channel first opens ("" = none)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		CloseTimeout:     2 * time.Second,
		MaxMessageSize:   1 << 20,
		SendBufferSize:   256,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = d.PongTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = d.CloseTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendBufferSize < 1 {
		o.SendBufferSize = d.SendBufferSize
	}
	return o
}

type eventKind int

const (
	eventState eventKind = iota
	eventMessage
	eventError
)

// event is one scheduled callback batch. Handler slices are snapshots
// taken when the event was scheduled.
type event struct {
	kind eventKind

	from, to State
	onState  []StateHandler

	payload   string
	onMessage []MessageHandler

	err     error
	onError []ErrorHandler
}
