package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wsduplex/internal/config"
	"github.com/rickgao/wsduplex/internal/connection"
	"github.com/rickgao/wsduplex/internal/database"
	"github.com/rickgao/wsduplex/internal/sink"
	"github.com/rickgao/wsduplex/internal/supervisor"
	"github.com/rickgao/wsduplex/internal/version"
)

const shutdownTimeout = 10 * time.Second

// runFlags override values from the config file.
type runFlags struct {
	Config    string `help:"Path to YAML config file." type:"path"`
	Endpoint  string `help:"Endpoint to open, e.g. ws://localhost:8000/cats."`
	Greeting  string `help:"Payload sent once when the channel opens."`
	Reconnect bool   `help:"Open a new connection when the current one closes."`
	Verbose   bool   `help:"Enable debug logging." short:"v"`
}

var CLI struct {
	Run     runFlags `cmd:"" default:"1" help:"Open an endpoint, print inbound messages and send stdin lines once the channel is open."`
	Version struct{} `cmd:"" help:"Print version information."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("wsclient"),
		kong.Description("Duplex WebSocket client."),
		kong.UsageOnError(),
	)

	switch ctx.Command() {
	case "run":
		if err := run(CLI.Run); err != nil {
			fmt.Fprintf(os.Stderr, "wsclient: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version.String())
	default:
		ctx.Fatalf("unknown command %q", ctx.Command())
	}
}

func run(flags runFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting wsclient",
		"version", version.Version,
		"commit", version.Commit,
		"endpoint", cfg.Endpoint.URL,
		"reconnect", cfg.Reconnect.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, pool, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	mgr := connection.NewManager(connectionOptions(cfg), logger)
	sup := supervisor.New(supervisor.Config{
		Endpoint:    cfg.Endpoint.URL,
		Reconnect:   cfg.Reconnect.Enabled,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}, mgr, func(c *connection.Connection) {
		sink.Attach(c, sinks)
		c.OnStateChange(func(from, to connection.State) {
			logger.Debug("state change", "conn_id", c.ID(), "from", from, "to", to)
		})
	}, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// Without reconnect the session ends with the first connection.
		defer cancel()
		return sup.Run(gctx)
	})
	g.Go(func() error {
		return forwardLines(gctx, scanLines(os.Stdin), sup.WaitOpen, logger)
	})

	runErr := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := sinks.Close(shutdownCtx); err != nil {
		logger.Error("failed to close sinks", "error", err)
	}

	logger.Info("wsclient stopped")
	return runErr
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(flags runFlags) (*config.ClientConfig, error) {
	cfg := config.Default()
	if flags.Config != "" {
		loaded, err := config.LoadWithDefaults(flags.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.Endpoint != "" {
		cfg.Endpoint.URL = flags.Endpoint
	}
	if flags.Greeting != "" {
		cfg.Endpoint.Greeting = flags.Greeting
	}
	if flags.Reconnect {
		cfg.Reconnect.Enabled = true
	}
	if flags.Verbose {
		cfg.Log.Level = "debug"
	}
	if !cfg.Sinks.Log && !cfg.Sinks.Stdout && !cfg.Sinks.Postgres {
		cfg.Sinks.Stdout = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Stdout is reserved for payloads.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// connectionOptions maps the config onto connection.Options.
func connectionOptions(cfg *config.ClientConfig) connection.Options {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	for k, v := range cfg.Endpoint.Headers {
		header.Set(k, v)
	}

	opts := connection.DefaultOptions()
	opts.HandshakeTimeout = cfg.Connection.HandshakeTimeout
	opts.WriteTimeout = cfg.Connection.WriteTimeout
	opts.PingInterval = cfg.Connection.PingInterval
	opts.PongTimeout = cfg.Connection.PongTimeout
	opts.CloseTimeout = cfg.Connection.CloseTimeout
	opts.MaxMessageSize = cfg.Connection.MaxMessageSize
	opts.SendBufferSize = cfg.Connection.SendBufferSize
	opts.Header = header
	opts.Greeting = cfg.Endpoint.Greeting
	return opts
}

// buildSinks creates the enabled sinks. The returned pool is non-nil
// only when the Postgres sink is enabled.
func buildSinks(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (sink.Multi, *pgxpool.Pool, error) {
	var sinks sink.Multi

	if cfg.Sinks.Log {
		sinks = append(sinks, sink.NewLogSink(logger))
	}
	if cfg.Sinks.Stdout {
		sinks = append(sinks, sink.NewTextSink(os.Stdout))
	}
	if !cfg.Sinks.Postgres {
		return sinks, nil, nil
	}

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	pg := sink.NewPostgresSink(sink.WriterConfig{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		BufferSize:    cfg.Writer.BufferSize,
	}, pool, logger.With("sink", "postgres"))
	if err := pg.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return append(sinks, pg), pool, nil
}

// scanLines reads r line by line until EOF.
func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// forwardLines sends every line as one frame. Each line waits until a
// connection is OPEN, so lines piped in before the handshake are kept.
func forwardLines(ctx context.Context, lines <-chan string, waitOpen func(context.Context) (*connection.Connection, error), logger *slog.Logger) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		for {
			c, err := waitOpen(ctx)
			if err != nil {
				return nil
			}
			err = c.Send(line)
			if err == nil {
				break
			}
			if errors.Is(err, connection.ErrNotConnected) {
				// Closed between WaitOpen and Send; wait for the next one.
				continue
			}
			logger.Warn("send failed, dropping line", "conn_id", c.ID(), "error", err)
			break
		}
	}
}
