package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haptic-data/touch.report/internal/monitoring"
)

// stateRow is one queued state event awaiting its batch.
type stateRow struct {
	ts     time.Time
	sensor string
	values []float64
}

// StateWriter sits in the ingest updater chain and records every reading
// into state_events. Writes queue behind a channel and flush in batched
// transactions, so the ingestion path never blocks on disk.
type StateWriter struct {
	db           *DB
	runID        string
	next         Updater
	queue        chan stateRow
	batchSize    int
	batchTimeout time.Duration
}

// Updater matches the merger's ingest surface, so the writer can wrap it.
type Updater interface {
	Update(timestamp time.Time, name string, values []float64) error
}

// StateWriterConfig holds the batching knobs.
type StateWriterConfig struct {
	// RunID stamps every recorded event. Required.
	RunID string

	// BatchSize is the number of rows flushed per transaction.
	BatchSize int

	// BatchTimeout flushes a partial batch after this long.
	BatchTimeout time.Duration

	// QueueDepth bounds the pending-row buffer. When the buffer is full,
	// readings still reach the merger; only the recording is dropped.
	QueueDepth int
}

// NewStateWriter wraps next with state-event recording into db.
func NewStateWriter(db *DB, config StateWriterConfig, next Updater) (*StateWriter, error) {
	if next == nil {
		return nil, fmt.Errorf("state writer requires an updater to forward to")
	}
	if config.RunID == "" {
		return nil, fmt.Errorf("state writer requires a run id")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = 250 * time.Millisecond
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 4096
	}
	return &StateWriter{
		db:           db,
		runID:        config.RunID,
		next:         next,
		queue:        make(chan stateRow, config.QueueDepth),
		batchSize:    config.BatchSize,
		batchTimeout: config.BatchTimeout,
	}, nil
}

// Update forwards the reading and queues it for recording. The forward
// verdict is returned unchanged; a full queue drops the recording, never
// the reading.
func (w *StateWriter) Update(ts time.Time, name string, values []float64) error {
	err := w.next.Update(ts, name, values)

	row := stateRow{ts: ts, sensor: name, values: append([]float64(nil), values...)}
	select {
	case w.queue <- row:
	default:
		monitoring.Logf("[StateWriter] queue full, dropping recording for sensor %s", name)
	}

	return err
}

// Run drains the queue into batched transactions until ctx is cancelled,
// then flushes whatever is still pending.
func (w *StateWriter) Run(ctx context.Context) error {
	batch := make([]stateRow, 0, w.batchSize)
	timer := time.NewTimer(w.batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.writeBatch(batch); err != nil {
			monitoring.Logf("[StateWriter] batch write failed, %d events lost: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain anything already queued before stopping.
			for {
				select {
				case row := <-w.queue:
					batch = append(batch, row)
					if len(batch) == w.batchSize {
						flush()
					}
				default:
					flush()
					return nil
				}
			}

		case row := <-w.queue:
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.batchTimeout)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.batchTimeout)
		}
	}
}

// writeBatch inserts one batch of rows inside a single transaction with a
// prepared statement.
func (w *StateWriter) writeBatch(batch []stateRow) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO state_events (run_id, sensor, ts_unix_nanos, values_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range batch {
		valuesJSON, err := json.Marshal(row.values)
		if err != nil {
			// non-finite values have no JSON encoding; skip the row
			continue
		}
		if _, err := stmt.Exec(w.runID, row.sensor, row.ts.UnixNano(), string(valuesJSON)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert state event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}
