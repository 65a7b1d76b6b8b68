package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/wsduplex/internal/queue"
)

// BatchSender is satisfied by *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig configures the Postgres batch writer.
type WriterConfig struct {
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a record waits before being flushed
	BufferSize    int           // Initial queue capacity (the queue grows)
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Dropped   int64 // Records written after Close
}

const insertMessageSQL = `
	INSERT INTO messages (conn_id, endpoint, seq, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (conn_id, seq) DO NOTHING
`

// PostgresSink batches records and inserts them into the messages table.
type PostgresSink struct {
	cfg    WriterConfig
	logger *slog.Logger
	db     BatchSender

	input *queue.Growable[Record]
	wake  chan struct{}

	// Serializes flushes so batches are inserted in order
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsMu sync.Mutex
	metrics   WriterMetrics
}

// NewPostgresSink creates a PostgresSink. Call Start before writing.
func NewPostgresSink(cfg WriterConfig, db BatchSender, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &PostgresSink{
		cfg:    cfg,
		logger: logger,
		db:     db,
		input:  queue.New[Record](cfg.BufferSize),
		wake:   make(chan struct{}, 1),
	}
}

// Start begins the periodic flush loop.
func (s *PostgresSink) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("postgres sink started",
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval,
	)
	return nil
}

// Write queues a record. A full batch triggers an early flush.
func (s *PostgresSink) Write(rec Record) {
	if !s.input.Push(rec) {
		s.metricsMu.Lock()
		s.metrics.Dropped++
		s.metricsMu.Unlock()
		return
	}

	if s.input.Len() >= s.cfg.BatchSize {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Close stops the flush loop and writes every queued record using ctx.
func (s *PostgresSink) Close(ctx context.Context) error {
	s.input.Close()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("postgres sink stop timed out")
	}

	// Final flush
	err := s.flush(ctx)

	s.logger.Info("postgres sink stopped", "inserts", s.Stats().Inserts)
	if err != nil {
		return fmt.Errorf("postgres sink final flush: %w", err)
	}
	return nil
}

// Stats returns current metrics.
func (s *PostgresSink) Stats() WriterMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.metrics
}

// flushLoop flushes on every tick and whenever a batch fills up.
func (s *PostgresSink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush(s.ctx)
		case <-s.wake:
			s.flush(s.ctx)
		}
	}
}

// flush drains the queue in BatchSize chunks. It stops at the first
// failed batch; those records are dropped.
func (s *PostgresSink) flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	for {
		batch := s.input.Drain(s.cfg.BatchSize)
		if len(batch) == 0 {
			return nil
		}

		start := time.Now()
		conflicts, err := s.batchInsert(ctx, batch)
		if err != nil {
			s.logger.Error("batch insert failed", "error", err, "count", len(batch))
			s.metricsMu.Lock()
			s.metrics.Errors++
			s.metricsMu.Unlock()
			return err
		}

		s.metricsMu.Lock()
		s.metrics.Inserts += int64(len(batch) - conflicts)
		s.metrics.Conflicts += int64(conflicts)
		s.metrics.Flushes++
		s.metricsMu.Unlock()

		s.logger.Debug("flushed messages",
			"count", len(batch),
			"conflicts", conflicts,
			"duration", time.Since(start),
		)
	}
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PostgresSink) batchInsert(ctx context.Context, rows []Record) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMessageSQL, r.ConnID, r.Endpoint, r.Seq, r.Payload, r.ReceivedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
