package connection

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// connect performs the opening handshake and starts the transport loops.
func (c *Connection) connect() {
	ws, resp, err := c.dialer.DialContext(c.ctx, c.endpoint, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()

	if c.state != StateConnecting {
		// Close was requested during the handshake
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		c.finish()
		return
	}

	if err != nil {
		reason := err.Error()
		if resp != nil {
			reason = fmt.Sprintf("%s (HTTP %d)", reason, resp.StatusCode)
		}
		ok := c.failLocked(&TransportError{Op: "dial", Reason: reason, Err: err})
		c.mu.Unlock()
		if ok {
			c.logger.Warn("handshake failed", "error", err)
		}
		return
	}

	c.conn = ws
	readDone := make(chan struct{})

	// The greeting is queued before OPEN becomes visible to Send, so it is
	// always the first frame on the wire.
	if c.pendingGreeting {
		c.pendingGreeting = false
		c.outbound <- c.opts.Greeting
	}

	c.transitionLocked(StateOpen)
	c.mu.Unlock()

	c.logger.Debug("websocket connected")

	go c.readLoop(ws, readDone)
	go c.writeLoop(ws, readDone)
}

// readLoop reads frames until the channel fails or closes.
func (c *Connection) readLoop(ws *websocket.Conn, readDone chan<- struct{}) {
	defer close(readDone)

	ws.SetReadLimit(c.opts.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			c.readFailed(ws, err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		if msgType != websocket.TextMessage {
			c.fail(&TransportError{
				Op:     "read",
				Code:   websocket.CloseUnsupportedData,
				Reason: "unexpected binary frame",
			})
			return
		}

		c.deliver(string(data))
	}
}

// readFailed classifies a read error.
func (c *Connection) readFailed(ws *websocket.Conn, err error) {
	var ce *websocket.CloseError
	isClose := errors.As(err, &ce)

	c.mu.Lock()
	if isClose {
		c.closeStatus = CloseStatus{Code: ce.Code, Reason: ce.Text}
	}
	requested := c.closeRequested
	c.mu.Unlock()

	// Expected after our own close frame or ws.Close()
	if requested {
		return
	}

	if isClose && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
		c.peerClosed(ws)
		return
	}

	terr := &TransportError{
		Op:     "read",
		Code:   websocket.CloseAbnormalClosure,
		Reason: err.Error(),
		Err:    err,
	}
	if isClose {
		terr.Code = ce.Code
		if ce.Text != "" {
			terr.Reason = ce.Text
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		terr.Reason = fmt.Sprintf("no pong within %s", c.opts.PongTimeout)
		terr.Err = fmt.Errorf("%w: %v", ErrStaleConnection, err)
	}

	c.fail(terr)
}

// peerClosed handles a normal close initiated by the peer. The library
// has already echoed the close frame.
func (c *Connection) peerClosed(ws *websocket.Conn) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(StateClosing)
	c.mu.Unlock()

	c.logger.Debug("peer closed connection", "status", c.CloseStatus())

	ws.Close()
	c.finish()
}

// writeLoop is the single writer: queued frames, keepalive pings and the
// closing handshake.
func (c *Connection) writeLoop(ws *websocket.Conn, readDone <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return

		case <-c.closing:
			c.flushOutbound(ws)
			c.closeHandshake(ws, readDone)
			return

		case payload := <-c.outbound:
			if err := c.write(ws, payload); err != nil {
				c.writeFailed(ws, "write", err)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.writeFailed(ws, "ping", err)
				return
			}
		}
	}
}

// writeFailed reports a failed write or ping. When Close was requested
// while the writer was blocked, the close handshake can no longer run,
// so the failure completes the shutdown instead.
func (c *Connection) writeFailed(ws *websocket.Conn, op string, err error) {
	reported := c.fail(&TransportError{
		Op:     op,
		Code:   websocket.CloseAbnormalClosure,
		Reason: err.Error(),
		Err:    err,
	})
	if reported {
		return
	}

	c.logger.Debug("write failed during shutdown", "op", op, "error", err)
	ws.Close()
	c.finish()
}

// write sends one text frame.
func (c *Connection) write(ws *websocket.Conn, payload string) error {
	ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

// flushOutbound writes frames queued before Close was requested.
func (c *Connection) flushOutbound(ws *websocket.Conn) {
	for {
		select {
		case payload := <-c.outbound:
			if err := c.write(ws, payload); err != nil {
				c.logger.Debug("flush before close failed", "error", err)
				return
			}
		default:
			return
		}
	}
}

// closeHandshake sends a normal close frame, waits for the peer's close
// (bounded by CloseTimeout) and tears the channel down.
func (c *Connection) closeHandshake(ws *websocket.Conn, readDone <-chan struct{}) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(c.opts.CloseTimeout)

	if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.Debug("failed to send close frame", "error", err)
	} else {
		timer := time.NewTimer(c.opts.CloseTimeout)
		select {
		case <-readDone:
		case <-timer.C:
			c.logger.Debug("peer did not acknowledge close", "timeout", c.opts.CloseTimeout)
		}
		timer.Stop()
	}

	ws.Close()
	c.finish()
}
