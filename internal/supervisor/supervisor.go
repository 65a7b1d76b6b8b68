package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/wsduplex/internal/connection"
)

// ErrGaveUp is returned by Run after MaxAttempts consecutive failures.
var ErrGaveUp = errors.New("supervisor: gave up")

// Dialer opens Connections, running setup before the handshake starts.
// *connection.Manager satisfies it.
type Dialer interface {
	OpenContext(ctx context.Context, endpoint string, setup ...func(*connection.Connection)) (*connection.Connection, error)
}

// Config configures a Supervisor.
type Config struct {
	Endpoint    string
	Reconnect   bool
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // Consecutive attempts that never reach OPEN, 0 = unlimited
}

// Defaults
const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Supervisor runs one Connection at a time against a single endpoint.
type Supervisor struct {
	cfg    Config
	dialer Dialer
	setup  func(*connection.Connection)
	logger *slog.Logger

	mu       sync.RWMutex
	current  *connection.Connection
	opened   chan struct{} // Closed when current reaches OPEN
	changed  chan struct{} // Closed and replaced whenever current changes
	attempts int
}

// New creates a Supervisor. setup is called with every new Connection
// before its handshake starts, so handlers registered there see the
// OPEN transition and every message. setup may be nil.
func New(cfg Config, dialer Dialer, setup func(*connection.Connection), logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	return &Supervisor{
		cfg:     cfg,
		dialer:  dialer,
		setup:   setup,
		logger:  logger.With("endpoint", cfg.Endpoint),
		changed: make(chan struct{}),
	}
}

// Current returns the live Connection, or nil between attempts.
func (s *Supervisor) Current() *connection.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// WaitOpen blocks until a Connection is OPEN and returns it, or returns
// ctx.Err() once ctx is done.
func (s *Supervisor) WaitOpen(ctx context.Context) (*connection.Connection, error) {
	for {
		s.mu.RLock()
		conn, opened, changed := s.current, s.opened, s.changed
		s.mu.RUnlock()

		if conn != nil {
			select {
			case <-opened:
				if conn.State() == connection.StateOpen {
					return conn, nil
				}
				// Already past OPEN; wait for the next Connection.
				opened = nil
			default:
			}
		}

		select {
		case <-opened:
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Attempts returns how many Connections have been opened.
func (s *Supervisor) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Run opens Connections until ctx is cancelled, returning nil in that
// case. Without Reconnect it returns after the first Connection closes,
// with the transport error that closed it (nil for a normal close).
// An invalid endpoint is returned immediately.
func (s *Supervisor) Run(ctx context.Context) error {
	wait := s.cfg.BaseDelay
	failures := 0

	for {
		w := &watcher{opened: make(chan struct{})}
		conn, err := s.dialer.OpenContext(ctx, s.cfg.Endpoint, func(c *connection.Connection) {
			w.install(c)
			if s.setup != nil {
				s.setup(c)
			}
		})
		if err != nil {
			return err
		}

		reachedOpen, lastErr := s.watch(conn, w)

		s.logger.Info("connection closed",
			"conn_id", conn.ID(),
			"reached_open", reachedOpen,
			"close_code", conn.CloseStatus().Code,
		)

		if ctx.Err() != nil {
			return nil
		}
		if !s.cfg.Reconnect {
			return lastErr
		}

		if reachedOpen {
			wait = s.cfg.BaseDelay
			failures = 0
		} else {
			failures++
		}

		if s.cfg.MaxAttempts > 0 && failures >= s.cfg.MaxAttempts {
			if lastErr != nil {
				return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, failures, lastErr)
			}
			return fmt.Errorf("%w after %d attempts", ErrGaveUp, failures)
		}

		s.logger.Info("reconnecting", "wait", wait, "failures", failures)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		wait = nextDelay(wait, s.cfg.MaxDelay)
	}
}

// watcher records what happened to one Connection.
type watcher struct {
	opened     chan struct{}
	openedOnce sync.Once
	failed     atomic.Pointer[error]
}

func (w *watcher) install(c *connection.Connection) {
	c.OnStateChange(func(from, to connection.State) {
		if to == connection.StateOpen {
			w.openedOnce.Do(func() { close(w.opened) })
		}
	})
	c.OnError(func(err error) {
		w.failed.Store(&err)
	})
}

func (w *watcher) reachedOpen() bool {
	select {
	case <-w.opened:
		return true
	default:
		return false
	}
}

// watch publishes conn as current and blocks until it is CLOSED.
func (s *Supervisor) watch(conn *connection.Connection, w *watcher) (reachedOpen bool, lastErr error) {
	s.mu.Lock()
	s.setCurrentLocked(conn, w.opened)
	s.attempts++
	s.mu.Unlock()

	<-conn.Done()

	s.mu.Lock()
	s.setCurrentLocked(nil, nil)
	s.mu.Unlock()

	if p := w.failed.Load(); p != nil {
		lastErr = *p
	}
	return w.reachedOpen(), lastErr
}

func (s *Supervisor) setCurrentLocked(conn *connection.Connection, opened chan struct{}) {
	s.current = conn
	s.opened = opened
	close(s.changed)
	s.changed = make(chan struct{})
}

// nextDelay doubles wait, capped at max.
func nextDelay(wait, max time.Duration) time.Duration {
	wait *= 2
	if wait > max {
		wait = max
	}
	return wait
}
