package connection

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/wsduplex/internal/queue"
)

// Manager opens Connections. It holds dial options only; every
// Connection it returns is independent and owned by the caller.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewManager creates a new Connection Manager.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	return &Manager{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   opts.ReadBufferSize,
			WriteBufferSize:  opts.WriteBufferSize,
		},
		logger: logger,
	}
}

// Options returns the effective options (defaults applied).
func (m *Manager) Options() Options {
	return m.opts
}

// Open starts an asynchronous handshake to endpoint and returns the
// Connection in state CONNECTING. Only a malformed endpoint fails here;
// every other failure is reported later as an ERROR event.
//
// Each setup function runs with the new Connection before the handshake
// starts. Handlers registered there see every transition and message.
func (m *Manager) Open(endpoint string, setup ...func(*Connection)) (*Connection, error) {
	return m.OpenContext(context.Background(), endpoint, setup...)
}

// OpenContext is Open with a parent context. Cancelling ctx closes the
// Connection.
func (m *Manager) OpenContext(ctx context.Context, endpoint string, setup ...func(*Connection)) (*Connection, error) {
	if _, err := ParseEndpoint(endpoint); err != nil {
		return nil, err
	}

	c := m.newConnection(endpoint)
	for _, fn := range setup {
		fn(c)
	}

	go c.dispatchLoop()
	go c.connect()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-c.done:
			}
		}()
	}

	return c, nil
}

func (m *Manager) newConnection(endpoint string) *Connection {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		id:              id,
		endpoint:        endpoint,
		opts:            m.opts,
		dialer:          m.dialer,
		logger:          m.logger.With("conn_id", id, "endpoint", endpoint),
		ctx:             ctx,
		cancel:          cancel,
		state:           StateConnecting,
		pendingGreeting: m.opts.Greeting != "",
		outbound:        make(chan string, m.opts.SendBufferSize),
		events:          queue.New[event](16),
		closing:         make(chan struct{}),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}
