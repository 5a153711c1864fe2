// Package store is the SQLite persistence layer for noticecast: the
// append-only notice log (artifact store), the registrant list, the scrape
// cursor and the tracked job records.
//
// Every mutation runs in its own SQLite transaction, so concurrent writers
// (an overlapping manual and scheduled ingestion, a registration racing a
// fan-out) are serialised by the database instead of clobbering a shared
// file.
package store

import (
	"database/sql"
	"errors"

	"github.com/hazyhaar/agrivoice/dbopen"
)

// ErrDuplicate is returned when a unique key (registrant phone, notice id)
// already exists.
var ErrDuplicate = errors.New("store: duplicate record")

// ErrCorrupt aliases dbopen.ErrCorrupt so callers only import store.
var ErrCorrupt = dbopen.ErrCorrupt

// Store wraps the noticecast database.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an already-opened database. The schema must have been
// applied (ApplySchema).
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Open opens (or creates) the database at path, checks its integrity and
// applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithIntegrityCheck(),
		dbopen.WithSchema(Schema),
	}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
