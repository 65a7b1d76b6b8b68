package sink

import (
	"context"
	"log/slog"
)

// LogSink logs every message at Info level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(rec Record) {
	s.logger.Info("message",
		"conn_id", rec.ConnID,
		"seq", rec.Seq,
		"payload", rec.Payload,
	)
}

func (s *LogSink) Close(ctx context.Context) error { return nil }
