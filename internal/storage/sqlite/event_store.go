// Package sqlite persists derived crossing events. The live zone and line
// state is in-memory only; the archive exists for after-the-fact reporting
// and survives restarts, which the bounded in-memory histories do not.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/footfall.report/internal/counter"
)

// EventStore provides persistence for crossing events.
type EventStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the event database at path.
func Open(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS crossing_events (
			event_id          TEXT PRIMARY KEY,
			camera_id         TEXT NOT NULL,
			target_kind       TEXT NOT NULL,
			target_name       TEXT NOT NULL,
			track_id          TEXT NOT NULL,
			action            TEXT NOT NULL,
			event_time_ns     BIGINT NOT NULL,
			seq               BIGINT NOT NULL,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_crossing_events_camera_time
			ON crossing_events (camera_id, event_time_ns);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create event schema: %w", err)
	}

	return &EventStore{db: db}, nil
}

// NewEventStore wraps an existing database handle, used by tests and by
// callers that manage the connection themselves.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// Close closes the underlying database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// retryOnBusy retries fn a few times when sqlite reports a locked or busy
// database, which happens under concurrent writers on the same file.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		msg := strings.ToLower(err.Error())
		if !strings.Contains(msg, "busy") && !strings.Contains(msg, "locked") {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// Append persists a batch of events in one transaction. Each row gets a UUID
// event id; the (camera, seq) pair from the detector is stored alongside for
// cursor queries.
func (s *EventStore) Append(events []counter.Event) error {
	if len(events) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO crossing_events (
				event_id, camera_id, target_kind, target_name,
				track_id, action, event_time_ns, seq
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			_, err := stmt.Exec(
				uuid.New().String(), e.CameraID, string(e.Kind), e.Name,
				e.TrackID, string(e.Action), e.UnixNanos, e.Seq,
			)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListByCamera returns a camera's archived events with event time at or after
// sinceNanos, oldest first, capped at limit rows (0 means no cap).
func (s *EventStore) ListByCamera(cameraID string, sinceNanos int64, limit int) ([]counter.Event, error) {
	query := `
		SELECT camera_id, target_kind, target_name, track_id, action, event_time_ns, seq
		FROM crossing_events
		WHERE camera_id = ? AND event_time_ns >= ?
		ORDER BY event_time_ns ASC, seq ASC`
	args := []interface{}{cameraID, sinceNanos}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []counter.Event
	for rows.Next() {
		var e counter.Event
		var kind, action string
		if err := rows.Scan(&e.CameraID, &kind, &e.Name, &e.TrackID, &action, &e.UnixNanos, &e.Seq); err != nil {
			return nil, err
		}
		e.Kind = counter.TargetKind(kind)
		e.Action = counter.Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByTarget returns per-action event counts for one zone or line since
// sinceNanos, for reporting.
func (s *EventStore) CountByTarget(cameraID string, kind counter.TargetKind, name string, sinceNanos int64) (map[counter.Action]int, error) {
	rows, err := s.db.Query(`
		SELECT action, COUNT(*)
		FROM crossing_events
		WHERE camera_id = ? AND target_kind = ? AND target_name = ? AND event_time_ns >= ?
		GROUP BY action`,
		cameraID, string(kind), name, sinceNanos)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[counter.Action]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[counter.Action(action)] = n
	}
	return counts, rows.Err()
}
