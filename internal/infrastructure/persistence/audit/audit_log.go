// Package audit persists security events to a local sqlite database so
// tamper history survives restarts and can be uploaded or inspected
// later. The log is append-only; retention is enforced by a periodic
// prune job.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pocketpaws/securecore/internal/domain/shared"
	"github.com/pocketpaws/securecore/internal/infrastructure/scheduler"
)

// JobPrune is the scheduler job name for retention pruning.
const JobPrune = "audit.prune"

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id     TEXT    NOT NULL,
	event_type   TEXT    NOT NULL,
	aggregate_id TEXT    NOT NULL DEFAULT '',
	occurred_at  INTEGER NOT NULL,
	payload      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_security_events_occurred_at ON security_events(occurred_at);
CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(event_type);
`

// Entry is one persisted security event.
type Entry struct {
	EventID     string
	EventType   shared.EventType
	AggregateID string
	OccurredAt  time.Time
	Payload     string
}

// Log is the sqlite-backed audit trail.
type Log struct {
	db        *sql.DB
	logger    *slog.Logger
	retention time.Duration
}

// Open opens (creating if needed) the audit database at path.
func Open(path string, retention time.Duration, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &Log{db: db, logger: logger, retention: retention}, nil
}

// Attach subscribes the log to the security event types worth keeping.
// Recording failures are logged and swallowed: the audit trail must
// never break the path that raised the event.
func (l *Log) Attach(bus shared.EventSubscriber) error {
	handler := func(event shared.Event) error {
		if err := l.Record(event); err != nil {
			l.logger.Error("audit record failed", "event_type", event.EventType(), "error", err)
		}
		return nil
	}
	for _, et := range []shared.EventType{shared.EventSecurityWarning, shared.EventTamperingDetected} {
		if err := bus.Subscribe(et, handler); err != nil {
			return err
		}
	}
	return nil
}

// Record persists one event.
func (l *Log) Record(event shared.Event) error {
	env, err := shared.Envelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("envelope event: %w", err)
	}

	_, err = l.db.Exec(
		`INSERT INTO security_events (event_id, event_type, aggregate_id, occurred_at, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		env.ID, string(env.Type), env.AggregateID, env.Timestamp.UnixMilli(), string(env.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.Query(
		`SELECT event_id, event_type, aggregate_id, occurred_at, payload
		 FROM security_events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var et string
		var occurred int64
		if err := rows.Scan(&e.EventID, &et, &e.AggregateID, &occurred, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		e.EventType = shared.EventType(et)
		e.OccurredAt = time.UnixMilli(occurred)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByType returns event counts grouped by type, for diagnostics.
func (l *Log) CountByType() (map[shared.EventType]int64, error) {
	rows, err := l.db.Query(`SELECT event_type, COUNT(*) FROM security_events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("count security events: %w", err)
	}
	defer rows.Close()

	counts := make(map[shared.EventType]int64)
	for rows.Next() {
		var et string
		var n int64
		if err := rows.Scan(&et, &n); err != nil {
			return nil, err
		}
		counts[shared.EventType(et)] = n
	}
	return counts, rows.Err()
}

// Prune deletes entries older than the retention window and returns how
// many were removed.
func (l *Log) Prune(now time.Time) (int64, error) {
	cutoff := now.Add(-l.retention).UnixMilli()
	res, err := l.db.Exec(`DELETE FROM security_events WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		l.logger.Info("audit trail pruned", "removed", removed)
	}
	return removed, nil
}

// PruneJob adapts Prune to a scheduler job.
func (l *Log) PruneJob() scheduler.Job {
	return scheduler.JobFunc{
		JobName: JobPrune,
		Fn: func(context.Context) error {
			_, err := l.Prune(time.Now())
			return err
		},
	}
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
