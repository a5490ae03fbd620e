package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WholeSensorTaxel is the taxel index recorded for whole-sensor contact
// episodes, where no per-taxel vector was configured.
const WholeSensorTaxel = -1

// Run identifies one daemon or backfill execution in the event store.
type Run struct {
	ID      string    `json:"run_id"`
	Label   string    `json:"label"`
	Started time.Time `json:"started"`
}

// CreateRun records a new run and returns its id.
func (db *DB) CreateRun(label string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO runs (run_id, label, started_unix_nanos) VALUES (?, ?, ?)`,
		id, label, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// Runs lists recorded runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, label, started_unix_nanos FROM runs ORDER BY started_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedNanos int64
		if err := rows.Scan(&r.ID, &r.Label, &startedNanos); err != nil {
			return nil, err
		}
		r.Started = time.Unix(0, startedNanos).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertStateEvent records one raw sensor reading. The batch writer is the
// normal write path; this direct form serves tests and small tools.
func (db *DB) InsertStateEvent(runID string, ts time.Time, sensor string, values []float64) error {
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO state_events (run_id, sensor, ts_unix_nanos, values_json) VALUES (?, ?, ?, ?)`,
		runID, sensor, ts.UnixNano(), string(valuesJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert state event: %w", err)
	}
	return nil
}

// ForEachStateEvent streams the stored state events for a run in timestamp
// order, invoking fn per reading. An empty runID streams every run. An error
// from fn aborts the walk.
func (db *DB) ForEachStateEvent(ctx context.Context, runID string, fn func(ts time.Time, sensor string, values []float64) error) error {
	query := `SELECT sensor, ts_unix_nanos, values_json FROM state_events`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY ts_unix_nanos ASC, event_id ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query state events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sensor, valuesJSON string
		var tsNanos int64
		if err := rows.Scan(&sensor, &tsNanos, &valuesJSON); err != nil {
			return err
		}
		var values []float64
		if err := json.Unmarshal([]byte(valuesJSON), &values); err != nil {
			return fmt.Errorf("corrupt values for sensor %s at %d: %w", sensor, tsNanos, err)
		}
		if err := fn(time.Unix(0, tsNanos).UTC(), sensor, values); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountStateEvents reports the stored state events for a run; an empty runID
// counts every run.
func (db *DB) CountStateEvents(runID string) (int64, error) {
	return db.countForRun(`state_events`, runID)
}

// ContactEvent is one completed contact episode: a taxel (or whole sensor)
// that crossed the activation threshold and later released.
type ContactEvent struct {
	ID    int64     `json:"contact_id"`
	RunID string    `json:"run_id"`
	Name  string    `json:"name"`
	Taxel int       `json:"taxel"` // WholeSensorTaxel for sensor-level episodes
	Began time.Time `json:"began"`
	Ended time.Time `json:"ended"`
	Peak  float64   `json:"peak"`
}

// Duration returns the episode length.
func (e ContactEvent) Duration() time.Duration {
	return e.Ended.Sub(e.Began)
}

// InsertContactEvent records one completed contact episode.
func (db *DB) InsertContactEvent(e ContactEvent) error {
	_, err := db.Exec(
		`INSERT INTO contact_events (run_id, sensor, taxel, began_unix_nanos, ended_unix_nanos, peak_value)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Name, e.Taxel, e.Began.UnixNano(), e.Ended.UnixNano(), e.Peak,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact event: %w", err)
	}
	return nil
}

// ContactEventFilter narrows RecentContactEvents. Zero values match all.
type ContactEventFilter struct {
	Sensor string
	RunID  string
	Since  time.Time
	Limit  int
}

// RecentContactEvents returns stored contact episodes, newest first.
func (db *DB) RecentContactEvents(f ContactEventFilter) ([]ContactEvent, error) {
	var conditions []string
	var args []any
	if f.Sensor != "" {
		conditions = append(conditions, "sensor = ?")
		args = append(args, f.Sensor)
	}
	if f.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, f.RunID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "began_unix_nanos >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := `SELECT contact_id, run_id, sensor, taxel, began_unix_nanos, ended_unix_nanos, peak_value FROM contact_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY began_unix_nanos DESC"

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact events: %w", err)
	}
	defer rows.Close()

	var events []ContactEvent
	for rows.Next() {
		var e ContactEvent
		var beganNanos, endedNanos int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Name, &e.Taxel, &beganNanos, &endedNanos, &e.Peak); err != nil {
			return nil, err
		}
		e.Began = time.Unix(0, beganNanos).UTC()
		e.Ended = time.Unix(0, endedNanos).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// SensorContactTotal summarizes one sensor's stored contact episodes.
type SensorContactTotal struct {
	Name     string        `json:"name"`
	Episodes int64         `json:"episodes"`
	Total    time.Duration `json:"total"`
	Peak     float64       `json:"peak"`
}

// ContactTotals aggregates contact episodes per sensor across all runs,
// ordered by episode count descending.
func (db *DB) ContactTotals() ([]SensorContactTotal, error) {
	rows, err := db.Query(`
		SELECT sensor,
		       COUNT(*),
		       SUM(ended_unix_nanos - began_unix_nanos),
		       MAX(peak_value)
		FROM contact_events
		GROUP BY sensor
		ORDER BY COUNT(*) DESC, sensor ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact totals: %w", err)
	}
	defer rows.Close()

	var totals []SensorContactTotal
	for rows.Next() {
		var t SensorContactTotal
		var totalNanos sql.NullInt64
		if err := rows.Scan(&t.Name, &t.Episodes, &totalNanos, &t.Peak); err != nil {
			return nil, err
		}
		t.Total = time.Duration(totalNanos.Int64)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// CountContactEvents reports the stored contact episodes for a run; an
// empty runID counts every run.
func (db *DB) CountContactEvents(runID string) (int64, error) {
	return db.countForRun(`contact_events`, runID)
}

// InsertSnapshot records one periodic coarse snapshot for a run.
func (db *DB) InsertSnapshot(runID string, ts time.Time, activeContacts int, snapshotJSON []byte) error {
	_, err := db.Exec(
		`INSERT INTO snapshots (run_id, ts_unix_nanos, active_contacts, snapshot_json) VALUES (?, ?, ?, ?)`,
		runID, ts.UnixNano(), activeContacts, string(snapshotJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// countForRun counts rows in table, optionally scoped to a run. The table
// name is always one of the package's own literals, never caller input.
func (db *DB) countForRun(table, runID string) (int64, error) {
	query := `SELECT COUNT(*) FROM ` + table
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	var count int64
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}
