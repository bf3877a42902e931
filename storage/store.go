// Package storage persists bridge state in SQLite: the upload ledger that
// backs folder-sync exactly-once semantics, and a cache of the last
// discovery result.
package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store is the bridge's persistence layer.
type Store interface {
	UploadLedger
	ScannerCache
	Close() error
}

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (creating if needed) the bridge database at dbPath.
func NewStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploaded_files (
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime_unix INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (path, size, mtime_unix)
	);

	CREATE INDEX IF NOT EXISTS idx_uploaded_files_path ON uploaded_files(path);

	CREATE TABLE IF NOT EXISTS scanners (
		id TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
