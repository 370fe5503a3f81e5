// Package history keeps a local audit ledger of archive, restore and
// delete runs. It is strictly informational: no engine consults it for
// state, which always derives from the filesystem and the remote.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"froster-go/internal/froster"
	"froster-go/internal/history/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	// StatusDeferred marks a run handed off to the scheduler, for
	// example a restore waiting out a retrieval window.
	StatusDeferred = "deferred"
)

// Entry is one recorded operation.
type Entry struct {
	ID         string
	Operation  string
	Parameters string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Ledger is the sqlite-backed operation history.
type Ledger struct {
	db    *sql.DB
	idgen froster.IDGenerator
	clock froster.Clock
}

// Open opens (creating if needed) the ledger at path and applies any
// pending schema migrations.
func Open(path string, idgen froster.IDGenerator, clock froster.Clock) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return &Ledger{db: db, idgen: idgen, clock: clock}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Begin records the start of an operation and returns its id.
func (l *Ledger) Begin(operation, parameters string) (string, error) {
	id := l.idgen.New()
	_, err := l.db.Exec(
		`INSERT INTO operations (id, operation, parameters, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, operation, parameters, StatusRunning, l.clock.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("recording operation start: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a previously begun operation.
func (l *Ledger) Finish(id, status, errText string) error {
	_, err := l.db.Exec(
		`UPDATE operations SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errText, l.clock.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording operation finish: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (l *Ledger) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		`SELECT id, operation, parameters, status, error, started_at, finished_at
		 FROM operations ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var finished sql.NullTime
		if err := rows.Scan(&e.ID, &e.Operation, &e.Parameters, &e.Status, &e.Error, &e.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation row: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			e.FinishedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return entries, nil
}
