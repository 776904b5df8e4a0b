package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// sidecars are the files SQLite may keep next to the main database.
var sidecars = []string{"", "-wal", "-shm", "-journal"}

// checkOrQuarantine runs a bounded WAL checkpoint and quick_check on an
// existing database. On failure the database and its sidecars are renamed
// with a ".bad-<timestamp>" suffix and the new main path is returned.
// A missing file is not checked.
func checkOrQuarantine(path string, timeout time.Duration) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	checkErr := integrityCheck(ctx, path)
	if checkErr == nil {
		return "", nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("history: integrity check of %s timed out after %s", path, timeout)
	}
	suffix := ".bad-" + time.Now().UTC().Format("20060102T150405Z")
	for _, ext := range sidecars {
		src := path + ext
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, src+suffix); err != nil {
			return "", fmt.Errorf("history: quarantine %s: %w (check: %v)", src, err, checkErr)
		}
	}
	return path + suffix, nil
}

func integrityCheck(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}
