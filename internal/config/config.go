package config

import "time"

// ClientConfig is the root configuration for a wsclient instance.
type ClientConfig struct {
	Endpoint   EndpointConfig   `yaml:"endpoint"`
	Connection ConnectionConfig `yaml:"connection"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Database   DBConfig         `yaml:"database"`
	Writer     WriterConfig     `yaml:"writer"`
	Log        LogConfig        `yaml:"log"`
}

// EndpointConfig identifies the remote peer.
type EndpointConfig struct {
	URL      string            `yaml:"url"`      // ws:// or wss://, path passed through
	Greeting string            `yaml:"greeting"` // Sent once when the channel opens
	Headers  map[string]string `yaml:"headers"`  // Extra handshake headers
}

// ConnectionConfig holds per-connection transport settings.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	CloseTimeout     time.Duration `yaml:"close_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	SendBufferSize   int           `yaml:"send_buffer_size"`
}

// ReconnectConfig holds caller-side reconnect settings.
type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"` // Consecutive failed attempts, 0 = unlimited
}

// SinksConfig selects where inbound messages go.
type SinksConfig struct {
	Log      bool `yaml:"log"`
	Stdout   bool `yaml:"stdout"`
	Postgres bool `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds Postgres batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
