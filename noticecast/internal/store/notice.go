package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/agrivoice/dbopen"
)

const noticeColumns = `id, external_id, text, audio, source, original_link, created_at`

// AppendNotice appends a single notice (manual entry path). CreatedAt is
// assigned by the store.
func (s *Store) AppendNotice(ctx context.Context, n *Notice) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return appendNotice(ctx, tx, n)
	})
}

// AppendIngested appends notices in the given order and advances the scrape
// cursor to cursor, atomically. Either every notice and the new cursor are
// persisted, or nothing is.
func (s *Store) AppendIngested(ctx context.Context, notices []*Notice, cursor string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, n := range notices {
			if err := appendNotice(ctx, tx, n); err != nil {
				return err
			}
		}
		return setCursor(ctx, tx, cursor)
	})
}

// appendNotice gives n a created_at strictly greater than every stored
// notice, so recency order and append order never disagree even when
// several notices land in the same millisecond.
func appendNotice(ctx context.Context, tx *sql.Tx, n *Notice) error {
	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM notices`).Scan(&last); err != nil {
		return fmt.Errorf("store: last created_at: %w", err)
	}
	now := time.Now().UnixMilli()
	if now <= last {
		now = last + 1
	}
	n.CreatedAt = now

	_, err := tx.ExecContext(ctx,
		`INSERT INTO notices (`+noticeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ExternalID, n.Text, n.Audio, n.Source, n.OriginalLink, n.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: notice %s", ErrDuplicate, n.ID)
		}
		return fmt.Errorf("store: insert notice: %w", err)
	}
	return nil
}

// LatestNotices returns the count most recent notices, newest first.
func (s *Store) LatestNotices(ctx context.Context, count int) ([]*Notice, error) {
	return s.ListNotices(ctx, count, 0)
}

// ListNotices returns notices newest first, paginated.
func (s *Store) ListNotices(ctx context.Context, limit, offset int) ([]*Notice, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryNotices(ctx, "list notices",
		`SELECT `+noticeColumns+` FROM notices
		ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?`, limit, offset)
}

// LatestWithAudio returns the count most recent notices that carry a stored
// audio artifact, newest first.
func (s *Store) LatestWithAudio(ctx context.Context, count int) ([]*Notice, error) {
	return s.queryNotices(ctx, "latest with audio",
		`SELECT `+noticeColumns+` FROM notices WHERE audio != ''
		ORDER BY created_at DESC, seq DESC LIMIT ?`, count)
}

// NoticesInOrder returns every notice in append order (oldest first).
func (s *Store) NoticesInOrder(ctx context.Context) ([]*Notice, error) {
	return s.queryNotices(ctx, "notices in order",
		`SELECT `+noticeColumns+` FROM notices ORDER BY seq ASC`)
}

func (s *Store) queryNotices(ctx context.Context, op, query string, args ...any) ([]*Notice, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*Notice
	for rows.Next() {
		var n Notice
		if err := rows.Scan(&n.ID, &n.ExternalID, &n.Text, &n.Audio, &n.Source,
			&n.OriginalLink, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan notice: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// GetNotice returns a notice by ID, or nil if absent.
func (s *Store) GetNotice(ctx context.Context, id string) (*Notice, error) {
	var n Notice
	err := s.DB.QueryRowContext(ctx,
		`SELECT `+noticeColumns+` FROM notices WHERE id = ?`, id).
		Scan(&n.ID, &n.ExternalID, &n.Text, &n.Audio, &n.Source, &n.OriginalLink, &n.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get notice: %w", err)
	}
	return &n, nil
}

// CountNotices returns the number of stored notices.
func (s *Store) CountNotices(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notices`).Scan(&n)
	return n, err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
