// Package dbopen opens the agrivoice SQLite database with the pragmas every
// store in this module relies on:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// The caller blank-imports the driver:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/agrivoice.db", dbopen.WithMkdirAll())
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// ErrCorrupt is returned by Open when WithIntegrityCheck is set and SQLite
// reports the file as damaged, or when the file is not a database at all.
var ErrCorrupt = errors.New("dbopen: database file is corrupt")

// busyTimeoutMS is PRAGMA busy_timeout, in milliseconds.
const busyTimeoutMS = 10_000

type config struct {
	mkdirAll       bool
	integrityCheck bool
	schemas        []string
}

// Option customises Open.
type Option func(*config)

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues DDL executed after the pragmas.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// WithIntegrityCheck runs PRAGMA quick_check before applying the schema.
func WithIntegrityCheck() Option { return func(c *config) { c.integrityCheck = true } }

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*sql.DB, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			if isNotADatabase(err) {
				return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			return nil, fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}

	if cfg.integrityCheck {
		if err := quickCheck(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens a private in-memory database for tests. All queries go
// through a single connection so they share the same database; the handle
// is closed by t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func quickCheck(db *sql.DB) error {
	var res string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&res); err != nil {
		if isNotADatabase(err) {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return fmt.Errorf("dbopen: quick_check: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: %s", ErrCorrupt, res)
	}
	return nil
}

func isNotADatabase(err error) bool {
	return err != nil && (containsAny(err.Error(), "file is not a database", "SQLITE_NOTADB", "malformed"))
}
