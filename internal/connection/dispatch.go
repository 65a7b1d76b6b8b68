package connection

// dispatchLoop delivers scheduled events one at a time, in order, until
// the CLOSED event has been delivered.
func (c *Connection) dispatchLoop() {
	defer close(c.done)

	for {
		ev, ok := c.events.Pop()
		if !ok {
			return
		}

		switch ev.kind {
		case eventState:
			for _, h := range ev.onState {
				c.invoke(func() { h(ev.from, ev.to) })
			}

		case eventMessage:
			// Buffered messages are dropped once Close was requested.
			if c.isCloseRequested() {
				c.dropped.Add(1)
				continue
			}
			for _, h := range ev.onMessage {
				c.invoke(func() { h(ev.payload) })
			}

		case eventError:
			for _, h := range ev.onError {
				c.invoke(func() { h(ev.err) })
			}
		}
	}
}

// invoke runs a handler, isolating the dispatcher from its panics.
func (c *Connection) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "panic", r)
		}
	}()
	fn()
}
