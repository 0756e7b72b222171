package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Journal stored in a SQLite database. Several processes may
// share one database file; the monotonic update is a single statement, so
// it needs no further coordination.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(path string) (*SQLite, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve journal path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	query := url.Values{}
	query.Add("_pragma", "busy_timeout(10000)")
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "synchronous(NORMAL)")
	// The path is escaped so that '?' or '#' in it stay part of the name.
	dsn := (&url.URL{Scheme: "file", Path: path, RawQuery: query.Encode()}).String()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &SQLite{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *SQLite) initialize() error {
	_, err := j.db.Exec(`
	CREATE TABLE IF NOT EXISTS access_times (
		path TEXT PRIMARY KEY,
		accessed_at INTEGER NOT NULL
	)`)
	return err
}

// Record implements Journal.
func (j *SQLite) Record(path string, t time.Time) error {
	_, err := j.db.Exec(`
	INSERT INTO access_times (path, accessed_at) VALUES (?, ?)
	ON CONFLICT(path) DO UPDATE SET accessed_at = excluded.accessed_at
	WHERE excluded.accessed_at > access_times.accessed_at`,
		path, t.UnixMilli())
	if err != nil {
		return fmt.Errorf("record access time: %w", err)
	}
	return nil
}

// Lookup implements Journal.
func (j *SQLite) Lookup(path string) (time.Time, bool, error) {
	var millis int64
	err := j.db.QueryRow(`SELECT accessed_at FROM access_times WHERE path = ?`, path).Scan(&millis)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("lookup access time: %w", err)
	}
	return time.UnixMilli(millis), true, nil
}

// Forget implements Journal.
func (j *SQLite) Forget(path string) error {
	if _, err := j.db.Exec(`DELETE FROM access_times WHERE path = ?`, path); err != nil {
		return fmt.Errorf("forget access time: %w", err)
	}
	return nil
}

// Close implements Journal.
func (j *SQLite) Close() error {
	return j.db.Close()
}
