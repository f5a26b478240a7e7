package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirPermissions and filePermissions keep the store private to the
	// bridge user: the device list carries per-device secrets.
	dirPermissions  = 0750
	filePermissions = 0600

	// msPerSecond converts the configured busy timeout to the pragma unit.
	msPerSecond = 1000

	// connectTimeout bounds the post-open connectivity ping.
	connectTimeout = 5 * time.Second

	// connMaxIdleTime is how long the idle connection is kept open.
	connMaxIdleTime = 30 * time.Minute
)

// DB is the bridge's SQLite handle. The embedded sql.DB serves queries
// directly; DB adds opening with the right pragmas and schema migration.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of config.yaml.
type Config struct {
	// Path is the SQLite file. Its directory is created on first open.
	Path string

	// WALMode enables write-ahead logging so status reads do not block
	// device-list writes.
	WALMode bool

	// BusyTimeout is how long a locked database is retried, in seconds.
	BusyTimeout int
}

// Open opens the bridge database, creating the file and its directory when
// missing, and verifies the connection with a ping.
func Open(cfg Config) (*DB, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite supports one writer; a single pooled connection avoids lock
	// contention between the device store and the migration runner.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{
		DB:   sqlDB,
		path: cfg.Path,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// May fail on the very first open before the file exists; the next
	// open fixes it up.
	_ = os.Chmod(cfg.Path, filePermissions)

	return db, nil
}

// Close closes the database. Closing an already-nil handle is not an error.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}
