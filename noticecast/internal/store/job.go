package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, kind, status, result, error, created_at, started_at, completed_at`

// InsertJob records a new pending job.
func (s *Store) InsertJob(ctx context.Context, j *Job) error {
	if j.CreatedAt == 0 {
		j.CreatedAt = time.Now().UnixMilli()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, status, created_at) VALUES (?, ?, ?, ?)`,
		j.ID, j.Kind, j.Status, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

// StartJob marks a job running.
func (s *Store) StartJob(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		JobRunning, time.Now().UnixMilli(), id)
	return err
}

// CompleteJob marks a job succeeded (errMsg empty) or failed.
func (s *Store) CompleteJob(ctx context.Context, id, result, errMsg string) error {
	status := JobSucceeded
	if errMsg != "" {
		status = JobFailed
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, result, errMsg, time.Now().UnixMilli(), id)
	return err
}

// GetJob returns a job by id, or nil if absent.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// RecentJobs returns the latest jobs, newest first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// FailStaleJobs marks jobs left pending or running by a previous process as
// failed. Background work is not resumed across restarts.
func (s *Store) FailStaleJobs(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = 'abandoned at shutdown', completed_at = ?
		WHERE status IN (?, ?)`,
		JobFailed, time.Now().UnixMilli(), JobPending, JobRunning)
	if err != nil {
		return 0, fmt.Errorf("store: fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var j Job
	var started, completed sql.NullInt64
	if err := sc.Scan(&j.ID, &j.Kind, &j.Status, &j.Result, &j.Error, &j.CreatedAt,
		&started, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	if started.Valid {
		j.StartedAt = &started.Int64
	}
	if completed.Valid {
		j.CompletedAt = &completed.Int64
	}
	return &j, nil
}
