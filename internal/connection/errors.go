package connection

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrNotConnected    = errors.New("not connected")
	ErrSendQueueFull   = errors.New("send queue full")
	ErrStaleConnection = errors.New("connection stale (no pong)")
)

// InvalidEndpointError is returned synchronously by Open for a malformed
// endpoint. It matches ErrInvalidEndpoint with errors.Is.
type InvalidEndpointError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *InvalidEndpointError) Error() string {
	return fmt.Sprintf("invalid endpoint %q: %s", e.Endpoint, e.Reason)
}

func (e *InvalidEndpointError) Unwrap() error { return e.Err }

func (e *InvalidEndpointError) Is(target error) bool {
	return target == ErrInvalidEndpoint
}

// TransportError is delivered to error handlers when the channel fails
// asynchronously. It is always followed by the CLOSED transition.
type TransportError struct {
	Op     string // "dial", "read", "write" or "ping"
	Code   int    // Close code, 0 if no close frame applies
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport %s: %s (code %d)", e.Op, e.Reason, e.Code)
	}
	return fmt.Sprintf("transport %s: %s", e.Op, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Err }
