package sink

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// TextSink appends each payload as one line to an io.Writer.
type TextSink struct {
	mu  sync.Mutex
	w   io.Writer
	err error // First write error, returned by Close
}

// NewTextSink creates a TextSink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Write(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	if _, err := fmt.Fprintln(s.w, rec.Payload); err != nil {
		s.err = fmt.Errorf("text sink: %w", err)
	}
}

// Close returns the first write error, if any.
func (s *TextSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
