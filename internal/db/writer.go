package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultQueueSize = 8192
	batchSize        = 100
	flushInterval    = 5 * time.Second
	commitRetries    = 3
	drainGrace       = 5 * time.Second
)

// Writer drains change records onto disk in batched transactions. The queue
// is bounded; Enqueue blocks when it is full, which is the backpressure the
// ingest path relies on instead of dropping changes.
type Writer struct {
	db     *DB
	ch     chan ChangeRec
	logger *slog.Logger
}

// NewWriter creates a writer with the default queue size.
func NewWriter(db *DB, logger *slog.Logger) *Writer {
	return &Writer{
		db:     db,
		ch:     make(chan ChangeRec, defaultQueueSize),
		logger: logger,
	}
}

// Enqueue submits a change record, blocking while the queue is full.
// Returns ctx.Err() if the caller is cancelled first.
func (w *Writer) Enqueue(ctx context.Context, rec ChangeRec) error {
	select {
	case w.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueLen reports the number of records waiting to be committed.
func (w *Writer) QueueLen() int {
	return len(w.ch)
}

// Run drains the queue until ctx is cancelled, committing a batch when it
// reaches batchSize or when the flush interval elapses. On shutdown the
// remaining buffered records are flushed within a bounded grace period.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info("persistence: writer started")

	batch := make([]ChangeRec, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain(batch)
			w.logger.Info("persistence: writer stopped")
			return nil

		case rec := <-w.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				w.flush(&batch)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(&batch)
			}
		}
	}
}

// flush commits the batch with bounded retry. A batch that still fails
// after all attempts is logged and abandoned; at most one batch of updates
// can be lost on a persistent commit failure or crash.
func (w *Writer) flush(batch *[]ChangeRec) {
	var err error
	for attempt := 1; attempt <= commitRetries; attempt++ {
		if err = w.db.ApplyBatch(*batch); err == nil {
			*batch = (*batch)[:0]
			return
		}
		w.logger.Warn("persistence: batch commit failed",
			slog.Int("attempt", attempt),
			slog.Int("batch_size", len(*batch)),
			slog.String("error", err.Error()))
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
	w.logger.Error("persistence: batch dropped after retries",
		slog.Int("batch_size", len(*batch)),
		slog.String("error", err.Error()))
	*batch = (*batch)[:0]
}

// drain pulls whatever is still buffered and flushes it, best effort,
// within drainGrace.
func (w *Writer) drain(batch []ChangeRec) {
	deadline := time.Now().Add(drainGrace)
	for time.Now().Before(deadline) {
		select {
		case rec := <-w.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				w.flush(&batch)
			}
		default:
			if len(batch) > 0 {
				w.flush(&batch)
			}
			return
		}
	}
	if len(batch) > 0 {
		w.flush(&batch)
	}
}
