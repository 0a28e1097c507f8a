package trace

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the user_version written by schema.sql.
const schemaVersion = 1

// ErrSchemaVersion is returned by Open for a trace file written with a
// schema this build cannot read.
var ErrSchemaVersion = errors.New("unsupported trace schema version")

// Store is a trace file. It holds a single connection: the recorder is the
// only writer and the CLI reads when no run is in progress.
type Store struct {
	db *sql.DB
}

// Open opens the trace file at path, creating it and its tables when the
// file is new. Connections use WAL journaling, enforce foreign keys (runs
// are deleted with their tick) and wait up to five seconds on a lock.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	return s, nil
}

func connString(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	return path + "?" + params.Encode()
}

// init creates the schema in an empty file and rejects any other version.
func (s *Store) init() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch version {
	case schemaVersion:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: file has %d, want %d", ErrSchemaVersion, version, schemaVersion)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return tx.Commit()
}

// Close closes the trace file. It is safe on a zero Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the connection for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}
