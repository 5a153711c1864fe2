package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertRegistrant stores a new registrant. Returns ErrDuplicate when the
// phone is already registered; nothing is written in that case.
func (s *Store) InsertRegistrant(ctx context.Context, r *Registrant) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO registrants (id, name, phone, locality, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Phone, r.Locality, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: phone %s", ErrDuplicate, r.Phone)
		}
		return fmt.Errorf("store: insert registrant: %w", err)
	}
	return nil
}

// ListRegistrants returns every registrant in registration order.
func (s *Store) ListRegistrants(ctx context.Context) ([]*Registrant, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, name, phone, locality, created_at FROM registrants ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list registrants: %w", err)
	}
	defer rows.Close()

	var out []*Registrant
	for rows.Next() {
		var r Registrant
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Locality, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan registrant: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// GetRegistrantByPhone returns the registrant with the canonical phone, or
// nil if none.
func (s *Store) GetRegistrantByPhone(ctx context.Context, phone string) (*Registrant, error) {
	var r Registrant
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, name, phone, locality, created_at FROM registrants WHERE phone = ?`, phone).
		Scan(&r.ID, &r.Name, &r.Phone, &r.Locality, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get registrant: %w", err)
	}
	return &r, nil
}

// CountRegistrants returns the number of registrants.
func (s *Store) CountRegistrants(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrants`).Scan(&n)
	return n, err
}
