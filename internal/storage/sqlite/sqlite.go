package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/tabnova/internal/storage"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultWatchInterval is how often Watch polls for appended events.
const DefaultWatchInterval = 500 * time.Millisecond

// Store implements the storage.Store interface on a SQLite file.
// WAL mode lets the host bridge and the daemon share the file.
type Store struct {
	db         *sql.DB
	usageStore *usageStore
	eventLog   *eventLog
	appStore   *appStore
}

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:         db,
		usageStore: &usageStore{db: db},
		eventLog:   &eventLog{db: db, interval: DefaultWatchInterval},
		appStore:   &appStore{db: db},
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS daily_usage (
			package_id TEXT NOT NULL,
			date TEXT NOT NULL,
			cumulative_minutes INTEGER NOT NULL DEFAULT 0,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (package_id, date)
		);

		CREATE INDEX IF NOT EXISTS idx_daily_usage_date ON daily_usage(date);
		CREATE INDEX IF NOT EXISTS idx_daily_usage_updated ON daily_usage(last_updated);

		CREATE TABLE IF NOT EXISTS threshold_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			package_id TEXT NOT NULL,
			cumulative_minutes INTEGER NOT NULL,
			occurred_at INTEGER NOT NULL,
			kind TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS threshold_checkpoints (
			package_id TEXT PRIMARY KEY,
			cumulative_minutes INTEGER NOT NULL,
			occurred_at INTEGER NOT NULL,
			kind TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS monitored_apps (
			package_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			daily_limit INTEGER NOT NULL,
			shielded INTEGER NOT NULL DEFAULT 0,
			token BLOB,
			monitoring_since INTEGER NOT NULL DEFAULT 0
		);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// SetWatchInterval changes the polling interval used by Watch.
func (s *Store) SetWatchInterval(d time.Duration) {
	s.eventLog.interval = d
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Events returns the EventLog implementation
func (s *Store) Events() storage.EventLog {
	return s.eventLog
}

// Apps returns the AppStore implementation
func (s *Store) Apps() storage.AppStore {
	return s.appStore
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
