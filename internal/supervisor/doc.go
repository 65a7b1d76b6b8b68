// Package supervisor keeps one endpoint connected by opening a fresh
// Connection whenever the previous one reaches CLOSED.
//
// Connections never reconnect on their own; the Supervisor is the caller
// that decides to. Between attempts it waits with exponential backoff,
// and the delay resets once a Connection has reached OPEN.
//
// Usage:
//
//	mgr := connection.NewManager(opts, logger)
//	sup := supervisor.New(supervisor.Config{
//	    Endpoint:  "ws://localhost:8000/cats",
//	    Reconnect: true,
//	}, mgr, func(c *connection.Connection) {
//	    sink.Attach(c, s)
//	}, logger)
//
//	err := sup.Run(ctx) // returns when ctx is cancelled or it gives up
package supervisor
