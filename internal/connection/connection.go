package connection

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wsduplex/internal/queue"
)

// Connection is one duplex text channel to a remote endpoint.
// All methods are safe for concurrent use.
type Connection struct {
	id       string
	endpoint string // Immutable, passed to the dialer unmodified
	opts     Options
	dialer   *websocket.Dialer
	logger   *slog.Logger

	// Cancels an in-flight handshake
	ctx    context.Context
	cancel context.CancelFunc

	// State
	mu              sync.Mutex
	state           State
	pendingGreeting bool
	closeRequested  bool
	closeStatus     CloseStatus
	conn            *websocket.Conn

	// Registered handlers
	onMessage []MessageHandler
	onState   []StateHandler
	onError   []ErrorHandler

	outbound chan string
	events   *queue.Growable[event]

	closing  chan struct{} // Closed by Close() while OPEN
	stop     chan struct{} // Closed on entering CLOSED
	stopOnce sync.Once
	done     chan struct{} // Closed after the CLOSED event was dispatched

	received atomic.Int64
	sent     atomic.Int64
	dropped  atomic.Int64
}

// ID returns the unique identifier assigned at Open.
func (c *Connection) ID() string {
	return c.id
}

// Endpoint returns the endpoint the Connection was opened with.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseStatus returns the close code and reason, once known.
func (c *Connection) CloseStatus() CloseStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeStatus
}

// Stats returns per-connection counters.
func (c *Connection) Stats() Stats {
	return Stats{
		Received: c.received.Load(),
		Sent:     c.sent.Load(),
		Dropped:  c.dropped.Load(),
	}
}

// Done is closed after the CLOSED transition has been delivered to
// every state handler.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Send enqueues payload as one text frame. It fails with ErrNotConnected
// unless the Connection is OPEN. Frames are written in call order.
func (c *Connection) Send(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return ErrNotConnected
	}

	select {
	case c.outbound <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// OnMessage registers a handler for inbound messages. Messages that
// arrived before registration are not replayed.
func (c *Connection) OnMessage(h MessageHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, h)
}

// OnStateChange registers a handler for lifecycle transitions. If the
// Connection is already OPEN, h receives one synthesized
// CONNECTING -> OPEN event so that no caller misses the open.
func (c *Connection) OnStateChange(h StateHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onState = append(c.onState, h)

	// The live OPEN event was scheduled with an earlier handler snapshot.
	if c.state == StateOpen {
		c.events.Push(event{
			kind:    eventState,
			from:    StateConnecting,
			to:      StateOpen,
			onState: []StateHandler{h},
		})
	}
}

// OnError registers a handler for transport failures.
func (c *Connection) OnError(h ErrorHandler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, h)
}

// Close requests a graceful shutdown and returns immediately.
// Inbound messages not yet delivered are discarded. Closing a
// Connection that is already closing or closed is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closeRequested || c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}

	prev := c.state
	c.closeRequested = true
	c.closeStatus = CloseStatus{Code: websocket.CloseNormalClosure}
	c.transitionLocked(StateClosing)
	c.mu.Unlock()

	c.logger.Debug("close requested", "state", prev)

	if prev == StateConnecting {
		// connect() observes CLOSING and finishes the shutdown.
		c.cancel()
		return nil
	}

	// writeLoop flushes queued frames and performs the close handshake.
	close(c.closing)
	return nil
}

// transitionLocked moves to next and schedules the state event.
// Must be called with mu held.
func (c *Connection) transitionLocked(next State) {
	prev := c.state
	c.state = next

	if len(c.onState) > 0 {
		c.events.Push(event{
			kind:    eventState,
			from:    prev,
			to:      next,
			onState: slices.Clone(c.onState),
		})
	}

	c.logger.Debug("state change", "from", prev, "to", next)

	if next == StateClosed {
		c.events.Close()
		c.stopOnce.Do(func() { close(c.stop) })
		c.cancel()
	}
}

// finish completes a shutdown that is already CLOSING.
func (c *Connection) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	c.transitionLocked(StateClosed)
}

// fail reports terr and moves straight to CLOSED. It returns false if a
// shutdown was already under way and terr was not reported.
func (c *Connection) fail(terr *TransportError) bool {
	c.mu.Lock()
	ok := c.failLocked(terr)
	ws := c.conn
	c.mu.Unlock()

	if !ok {
		return false
	}
	c.logger.Warn("connection failed", "op", terr.Op, "error", terr)
	if ws != nil {
		ws.Close()
	}
	return true
}

// failLocked schedules the ERROR event and the CLOSED transition unless a
// shutdown is already under way. Must be called with mu held.
func (c *Connection) failLocked(terr *TransportError) bool {
	if c.closeRequested || c.state == StateClosing || c.state == StateClosed {
		return false
	}

	if c.closeStatus.Code == 0 {
		c.closeStatus = CloseStatus{Code: terr.Code, Reason: terr.Reason}
	}

	if len(c.onError) > 0 {
		c.events.Push(event{
			kind:    eventError,
			err:     terr,
			onError: slices.Clone(c.onError),
		})
	}

	c.transitionLocked(StateClosed)
	return true
}

// deliver schedules an inbound payload for the current message handlers.
func (c *Connection) deliver(payload string) {
	c.received.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeRequested || c.state != StateOpen || len(c.onMessage) == 0 {
		c.dropped.Add(1)
		return
	}

	c.events.Push(event{
		kind:      eventMessage,
		payload:   payload,
		onMessage: slices.Clone(c.onMessage),
	})
}

func (c *Connection) isCloseRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeRequested
}
