package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rickgao/wsduplex/internal/connection"
)

// Record is one inbound message with its origin.
type Record struct {
	ConnID     string
	Endpoint   string
	Seq        int64 // 1-based per connection, in delivery order
	Payload    string
	ReceivedAt time.Time
}

// Sink consumes inbound messages.
type Sink interface {
	// Write hands one record to the sink. It must not block for long;
	// it runs on the connection's dispatcher.
	Write(rec Record)

	// Close flushes buffered records and releases resources.
	Close(ctx context.Context) error
}

// Source is the part of a connection Attach needs.
type Source interface {
	ID() string
	Endpoint() string
	OnMessage(h connection.MessageHandler)
}

// Attach registers a message handler on src that forwards every
// subsequent message to s.
func Attach(src Source, s Sink) {
	var seq atomic.Int64
	id, endpoint := src.ID(), src.Endpoint()

	src.OnMessage(func(payload string) {
		s.Write(Record{
			ConnID:     id,
			Endpoint:   endpoint,
			Seq:        seq.Add(1),
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
	})
}

// Multi writes every record to each sink in order.
type Multi []Sink

func (m Multi) Write(rec Record) {
	for _, s := range m {
		s.Write(rec)
	}
}

// Close closes every sink and joins their errors.
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
