package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // The pure Go SQLite driver
)

// Service owns the authority's sqlite database. Reads go straight to the
// connection; writes are serialised through WriteTx so each mutation commits
// as one transaction.
type Service struct {
	path string
	db   *sql.DB

	writeMu sync.Mutex
}

// NewService opens (creating if needed) the database at path and applies the
// schema.
func NewService(path string) (*Service, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to %s: %w", path, err)
	}

	s := &Service{path: path, db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}
	return s, nil
}

// DB returns the underlying connection for reads.
func (s *Service) DB() *sql.DB {
	return s.db
}

// WriteTx runs writeFunc inside a transaction, holding the write lock. The
// transaction is rolled back if writeFunc returns an error.
func (s *Service) WriteTx(writeFunc func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := writeFunc(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *Service) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Close()
	slog.Info("Database connection closed", "path", s.path)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS finishers (
	id TEXT PRIMARY KEY,
	bib_number TEXT NOT NULL,
	racer_name TEXT NOT NULL DEFAULT '',
	finish_time_ms INTEGER,
	gender TEXT NOT NULL DEFAULT '',
	team TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_finishers_position ON finishers(position);
CREATE INDEX IF NOT EXISTS idx_finishers_bib ON finishers(bib_number);

CREATE TABLE IF NOT EXISTS roster (
	bib_number TEXT PRIMARY KEY,
	racer_name TEXT NOT NULL,
	gender TEXT NOT NULL DEFAULT '',
	team TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS race_clock (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	race_start_time REAL,
	status TEXT NOT NULL DEFAULT 'stopped',
	offset_ms INTEGER NOT NULL DEFAULT 0
);
`

// initSchema is idempotent and safe to run on every start.
func (s *Service) initSchema() error {
	return s.WriteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(schema)
		return err
	})
}
