// Package history keeps a SQLite log of finished export attempts so an
// operator can see what was exported, when, and which requests failed.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"labdash/export"
	"labdash/selection"

	_ "modernc.org/sqlite"
)

// Attempt is one recorded export. ID identifies it across console runs;
// SessionAttempt restarts at 1 with every run and repeats between runs.
type Attempt struct {
	ID             int64
	SessionAttempt uint64
	Experiment     string
	Datasets       []string // dataset keys that were selected
	State          string
	Filename       string
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration returns how long the request ran.
func (a Attempt) Duration() time.Duration {
	if a.StartedAt.IsZero() || a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// Store persists attempts into SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Purpose: Open (or create) the export log at path.
// Key aspects: A file that fails quick_check is moved aside and a fresh one
// created; the console must start even if its history is damaged.
// Upstream: main when history.enabled.
// Downstream: checkOrQuarantine, initSchema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure dir: %w", err)
	}
	if moved, err := checkOrQuarantine(path, 2*time.Second); err != nil {
		return nil, err
	} else if moved != "" {
		log.Printf("Warning: history: %s failed integrity check; moved to %s", path, moved)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS export_attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt INTEGER NOT NULL,
    experiment TEXT NOT NULL,
    datasets TEXT NOT NULL,
    state TEXT NOT NULL,
    filename TEXT,
    error TEXT,
    started_at INTEGER,
    finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS export_attempts_finished ON export_attempts(finished_at);`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores a terminal status. Non-terminal states are ignored.
func (s *Store) Record(ctx context.Context, st export.Status) error {
	if s == nil || s.db == nil || !st.State.Terminal() {
		return nil
	}
	errText := ""
	if st.Err != nil {
		errText = st.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO export_attempts (
    attempt, experiment, datasets, state, filename, error, started_at, finished_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(st.Attempt),
		st.Selection.Experiment,
		strings.Join(datasetKeys(st.Selection.Datasets), ","),
		st.State.String(),
		st.Filename,
		errText,
		unixMilli(st.StartedAt),
		unixMilli(st.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Listener adapts Record to export.Controller.Subscribe. Write failures are
// logged and never affect the export lifecycle.
func (s *Store) Listener() export.Listener {
	return func(st export.Status) {
		if !st.State.Terminal() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, st); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, attempt, experiment, datasets, state, filename, error, started_at, finished_at
FROM export_attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                 Attempt
			sessionAttempt    int64
			datasets          string
			filename, errText sql.NullString
			started, finished sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &sessionAttempt, &a.Experiment, &datasets, &a.State, &filename, &errText, &started, &finished); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		a.SessionAttempt = uint64(sessionAttempt)
		if datasets != "" {
			a.Datasets = strings.Split(datasets, ",")
		}
		a.Filename = filename.String
		a.Error = errText.String
		a.StartedAt = fromUnixMilli(started)
		a.FinishedAt = fromUnixMilli(finished)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Counts returns the number of recorded attempts per state.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM export_attempts GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("history: count: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}

func datasetKeys(d selection.DatasetSelection) []string {
	kinds := d.Selected()
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k.Key())
	}
	return out
}

func unixMilli(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().UnixMilli()
}

func fromUnixMilli(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
