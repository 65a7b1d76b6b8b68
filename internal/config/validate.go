package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/wsduplex/internal/connection"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.Endpoint.URL == "" {
		return errors.New("endpoint.url is required")
	}
	if _, err := connection.ParseEndpoint(c.Endpoint.URL); err != nil {
		return fmt.Errorf("endpoint.url: %w", err)
	}

	if c.Connection.PongTimeout <= c.Connection.PingInterval {
		return fmt.Errorf("connection.pong_timeout (%s) must exceed ping_interval (%s)",
			c.Connection.PongTimeout, c.Connection.PingInterval)
	}
	if c.Connection.SendBufferSize < 1 {
		return errors.New("connection.send_buffer_size must be >= 1")
	}
	if c.Connection.MaxMessageSize < 1 {
		return errors.New("connection.max_message_size must be >= 1")
	}

	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must be >= 0")
	}
	if c.Reconnect.BaseDelay > c.Reconnect.MaxDelay {
		return fmt.Errorf("reconnect.base_delay (%s) cannot exceed max_delay (%s)",
			c.Reconnect.BaseDelay, c.Reconnect.MaxDelay)
	}

	if c.Sinks.Postgres {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
		if c.Writer.BufferSize < 1 {
			return errors.New("writer.buffer_size must be >= 1")
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
