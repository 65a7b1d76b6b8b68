package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wsduplex/internal/connection"
)

// countingServer upgrades every request and hands the peer to handler
// together with the 1-based connection number.
func countingServer(t *testing.T, handler func(n int32, conn *websocket.Conn)) (*httptest.Server, *atomic.Int32) {
	var count atomic.Int32
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(count.Add(1), conn)
	}))

	return server, &count
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testManager() *connection.Manager {
	opts := connection.DefaultOptions()
	opts.HandshakeTimeout = 2 * time.Second
	opts.CloseTimeout = 500 * time.Millisecond
	return connection.NewManager(opts, nil)
}

func runAsync(ctx context.Context, s *Supervisor) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRun_NormalCloseWithoutReconnect(t *testing.T) {
	server, count := countingServer(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		holdOpen(conn)
	})
	defer server.Close()

	var setups atomic.Int32
	s := New(Config{Endpoint: wsURL(server) + "/cats"}, testManager(),
		func(*connection.Connection) { setups.Add(1) }, nil)

	if err := waitResult(t, runAsync(context.Background(), s)); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if setups.Load() != 1 || count.Load() != 1 {
		t.Errorf("setups=%d connections=%d, want 1 and 1", setups.Load(), count.Load())
	}
	if s.Current() != nil {
		t.Error("Current() should be nil after Run returns")
	}
}

func TestRun_TransportErrorWithoutReconnect(t *testing.T) {
	server, _ := countingServer(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(4000, "kicked"))
		holdOpen(conn)
	})
	defer server.Close()

	s := New(Config{Endpoint: wsURL(server)}, testManager(), nil, nil)
	err := waitResult(t, runAsync(context.Background(), s))

	var te *connection.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Run() = %v, want *connection.TransportError", err)
	}
	if te.Code != 4000 {
		t.Errorf("Code = %d, want 4000", te.Code)
	}
}

func TestRun_ReconnectsAfterDrop(t *testing.T) {
	server, count := countingServer(t, func(n int32, conn *websocket.Conn) {
		if n <= 2 {
			return // abrupt drop
		}
		holdOpen(conn)
	})
	defer server.Close()

	var opened atomic.Int32
	setup := func(c *connection.Connection) {
		c.OnStateChange(func(from, to connection.State) {
			if to == connection.StateOpen {
				opened.Add(1)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{
		Endpoint:  wsURL(server),
		Reconnect: true,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  20 * time.Millisecond,
	}, testManager(), setup, nil)
	errCh := runAsync(ctx, s)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c := s.Current(); c != nil && c.State() == connection.StateOpen && count.Load() == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := s.Attempts(); got != 3 {
		t.Errorf("Attempts() = %d, want 3", got)
	}
	if got := opened.Load(); got != 3 {
		t.Errorf("OPEN seen %d times, want 3", got)
	}

	live := s.Current()
	cancel()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run() = %v, want nil after cancel", err)
	}
	if live == nil || live.State() != connection.StateClosed {
		t.Error("live connection should be CLOSED after cancel")
	}
}

func TestRun_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := wsURL(server)
	server.Close() // refuse every dial

	s := New(Config{
		Endpoint:    endpoint,
		Reconnect:   true,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		MaxAttempts: 3,
	}, testManager(), nil, nil)

	err := waitResult(t, runAsync(context.Background(), s))
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("Run() = %v, want ErrGaveUp", err)
	}
	var te *connection.TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Errorf("Run() = %v, want wrapped dial TransportError", err)
	}
	if s.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", s.Attempts())
	}
}

func TestRun_InvalidEndpoint(t *testing.T) {
	s := New(Config{Endpoint: "http://localhost/cats", Reconnect: true}, testManager(), nil, nil)

	err := s.Run(context.Background())
	if !errors.Is(err, connection.ErrInvalidEndpoint) {
		t.Errorf("Run() = %v, want ErrInvalidEndpoint", err)
	}
	if s.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", s.Attempts())
	}
}

func TestRun_CancelDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{
		Endpoint:  wsURL(server),
		Reconnect: true,
		BaseDelay: time.Hour,
	}, testManager(), nil, nil)
	errCh := runAsync(ctx, s)

	deadline := time.Now().Add(2 * time.Second)
	for s.Attempts() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

// slowDialer delays returning from OpenContext, as if the calling
// goroutine were descheduled right after the handshake started.
type slowDialer struct {
	Dialer
	delay time.Duration
}

func (d slowDialer) OpenContext(ctx context.Context, endpoint string, setup ...func(*connection.Connection)) (*connection.Connection, error) {
	conn, err := d.Dialer.OpenContext(ctx, endpoint, setup...)
	time.Sleep(d.delay)
	return conn, err
}

func TestRun_SetupSeesFirstMessage(t *testing.T) {
	server, _ := countingServer(t, func(n int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("first"))
		holdOpen(conn)
	})
	defer server.Close()

	got := make(chan string, 1)
	var stateAtSetup connection.State
	setup := func(c *connection.Connection) {
		stateAtSetup = c.State()
		c.OnMessage(func(p string) { got <- p })
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{Endpoint: wsURL(server)},
		slowDialer{Dialer: testManager(), delay: 200 * time.Millisecond}, setup, nil)
	errCh := runAsync(ctx, s)

	select {
	case p := <-got:
		if p != "first" {
			t.Errorf("message = %q, want %q", p, "first")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("setup handler never saw the first message")
	}
	if stateAtSetup != connection.StateConnecting {
		t.Errorf("state at setup = %s, want CONNECTING", stateAtSetup)
	}

	cancel()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestWaitOpen(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		holdOpen(conn)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(Config{Endpoint: wsURL(server)}, testManager(), nil, nil)

	// Nothing is open yet: a short wait times out.
	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	if _, err := s.WaitOpen(shortCtx); err != context.DeadlineExceeded {
		t.Errorf("WaitOpen() error = %v, want DeadlineExceeded", err)
	}
	shortCancel()

	errCh := runAsync(ctx, s)

	type result struct {
		conn *connection.Connection
		err  error
	}
	waited := make(chan result, 1)
	go func() {
		c, err := s.WaitOpen(ctx)
		waited <- result{c, err}
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-waited:
		t.Error("WaitOpen returned before the handshake completed")
	default:
	}

	close(release)

	select {
	case r := <-waited:
		if r.err != nil {
			t.Fatalf("WaitOpen() error = %v", r.err)
		}
		if r.conn.State() != connection.StateOpen {
			t.Errorf("state = %s, want OPEN", r.conn.State())
		}
		if r.conn != s.Current() {
			t.Error("WaitOpen should return the current connection")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WaitOpen did not return after OPEN")
	}

	cancel()
	if err := waitResult(t, errCh); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		wait, max, want time.Duration
	}{
		{time.Second, 30 * time.Second, 2 * time.Second},
		{16 * time.Second, 30 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := nextDelay(tt.wait, tt.max); got != tt.want {
			t.Errorf("nextDelay(%v, %v) = %v, want %v", tt.wait, tt.max, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Endpoint: "ws://localhost/"}, testManager(), nil, nil)
	if s.cfg.BaseDelay != DefaultBaseDelay || s.cfg.MaxDelay != DefaultMaxDelay {
		t.Errorf("delays = %v/%v, want defaults", s.cfg.BaseDelay, s.cfg.MaxDelay)
	}

	s = New(Config{BaseDelay: time.Minute, MaxDelay: time.Second}, testManager(), nil, nil)
	if s.cfg.MaxDelay != time.Minute {
		t.Errorf("MaxDelay = %v, want raised to BaseDelay", s.cfg.MaxDelay)
	}
}
