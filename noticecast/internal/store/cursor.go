package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Cursor returns the last-seen external notice id ("" before the first
// successful ingestion).
func (s *Store) Cursor(ctx context.Context) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_notice_id FROM scrape_cursor WHERE id = 1`).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("store: read cursor: %w", err)
	}
	return id, nil
}

func setCursor(ctx context.Context, tx *sql.Tx, lastID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO scrape_cursor (id, last_notice_id, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_notice_id = excluded.last_notice_id, updated_at = excluded.updated_at`,
		lastID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set cursor: %w", err)
	}
	return nil
}

// Stats returns aggregate counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	notices, err := s.CountNotices(ctx)
	if err != nil {
		return nil, err
	}
	regs, err := s.CountRegistrants(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := s.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Notices: notices, Registrants: regs, Cursor: cur}, nil
}
