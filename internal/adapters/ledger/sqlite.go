// Package ledger keeps run history in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

var _ output.RunLedger = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	dataset     TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	candidates  INTEGER NOT NULL,
	fetched     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	bytes       INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_dataset_started ON runs (dataset, started_at);
CREATE TABLE IF NOT EXISTS items (
	run_id   TEXT NOT NULL,
	name     TEXT NOT NULL,
	location TEXT NOT NULL,
	state    TEXT NOT NULL,
	error    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS items_run ON items (run_id);
`

// SQLite implements RunLedger on a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the ledger at path. ":memory:" keeps it in memory.
func Open(ctx context.Context, path string) (*SQLite, error) {
	dsn := "file::memory:?cache=shared"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// A single writer keeps SQLite free of lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// RecordRun implements RunLedger.
func (l *SQLite) RecordRun(ctx context.Context, s domain.Summary) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, dataset, started_at, duration_ms, candidates, fetched, skipped, failed, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Dataset, s.StartedAt.UnixNano(), s.Duration.Milliseconds(),
		s.TotalCandidates, s.Fetched, s.SkippedExisting, s.Failed, s.Bytes, s.Error,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", s.RunID, err)
	}
	return nil
}

// RecordItem implements RunLedger.
func (l *SQLite) RecordItem(ctx context.Context, runID string, task domain.FetchTask) error {
	msg := ""
	if task.Err != nil {
		msg = task.Err.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO items (run_id, name, location, state, error) VALUES (?, ?, ?, ?, ?)`,
		runID, task.Entry.Name, task.Entry.Location, string(task.State), msg,
	)
	if err != nil {
		return fmt.Errorf("recording item %s: %w", task.Entry.Name, err)
	}
	return nil
}

// RecentRuns implements RunLedger. An empty dataset matches all datasets.
func (l *SQLite) RecentRuns(ctx context.Context, dataset string, limit int) ([]domain.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, dataset, started_at, duration_ms, candidates, fetched, skipped, failed, bytes, error
		FROM runs
		WHERE ? = '' OR dataset = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, dataset, dataset, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Summary
	for rows.Next() {
		var (
			s        domain.Summary
			started  int64
			duration int64
		)
		if err := rows.Scan(&s.RunID, &s.Dataset, &started, &duration,
			&s.TotalCandidates, &s.Fetched, &s.SkippedExisting, &s.Failed, &s.Bytes, &s.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		s.StartedAt = time.Unix(0, started).UTC()
		s.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// ItemStates returns the recorded state of every item of a run.
func (l *SQLite) ItemStates(ctx context.Context, runID string) (map[string]domain.TaskState, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT name, state FROM items WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.TaskState)
	for rows.Next() {
		var name, state string
		if err := rows.Scan(&name, &state); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		out[name] = domain.TaskState(state)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *SQLite) Close() error {
	return l.db.Close()
}
