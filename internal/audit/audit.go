// Package audit implements component 4.I: a durable, SQLite-backed history
// of terminal operations, kept separate from the coordinator's in-memory
// OperationStatus the way the teacher's database package durably records
// events alongside an adapter's live, ephemeral state. It grounds on
// internal/database/connection.go and migrations.go from the teacher repo:
// the same sql.Open("sqlite3", dsn) + WAL pragma + migration-list pattern,
// narrowed to one table instead of the teacher's four.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fpauthd/internal/coordinator"
)

const createOperationsTable = `
CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL CHECK (kind IN ('enroll', 'match')),
	user_id INTEGER NOT NULL,
	operation_id INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT
);`

const createOperationsIndex = `
CREATE INDEX IF NOT EXISTS idx_operations_user ON operations(user_id, finished_at);`

// Log is the SQLite-backed AuditRecorder (coordinator.AuditRecorder).
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at path and runs its
// migration.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}

	for _, stmt := range []string{createOperationsTable, createOperationsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: migrate: %w", err)
		}
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

// RecordOutcome persists rec as a new row, implementing
// coordinator.AuditRecorder.
func (l *Log) RecordOutcome(rec coordinator.AuditRecord) error {
	kind := "enroll"
	if rec.Kind == coordinator.OperationMatch {
		kind = "match"
	}
	_, err := l.db.Exec(
		`INSERT INTO operations (kind, user_id, operation_id, started_at, finished_at, outcome, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		kind, rec.UserID, rec.UniqueID.OperationID, rec.StartedAt, rec.FinishedAt, rec.Outcome, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// QueryFilter narrows Query's result set; zero values mean "no filter".
type QueryFilter struct {
	UserID  uint32
	HasUser bool
	Outcome string
	Since   time.Time
	Limit   int
}

// Record is one durable audit row, returned by Query.
type Record struct {
	Kind       string
	UserID     uint32
	OperationID uint32
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	Detail     string
}

// Query returns rows matching filter, most recent first. Used by the
// read-only admin HTTP surface (§4.J).
func (l *Log) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	query := `SELECT kind, user_id, operation_id, started_at, finished_at, outcome, detail FROM operations WHERE 1=1`
	var args []interface{}

	if filter.HasUser {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	if !filter.Since.IsZero() {
		query += ` AND finished_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY finished_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Kind, &r.UserID, &r.OperationID, &r.StartedAt, &r.FinishedAt, &r.Outcome, &r.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes rows whose finished_at predates the retention window,
// intended to be invoked on a ticker by the daemon.
func (l *Log) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	_, err := l.db.ExecContext(ctx, `DELETE FROM operations WHERE finished_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("audit: cleanup: %w", err)
	}
	return nil
}

// RunCleanupLoop runs Cleanup on interval until ctx is cancelled, logging
// failures rather than treating them as fatal: a missed cleanup pass merely
// delays reclaiming disk space.
func (l *Log) RunCleanupLoop(ctx context.Context, interval, retention time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Cleanup(ctx, retention); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
