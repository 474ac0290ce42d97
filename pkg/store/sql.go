package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/subgen/pkg/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with '?' placeholders and rebound for postgres.
type sqlStore struct {
	db       *sql.DB
	numbered bool // use $1, $2 ... placeholders
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveActiveJob remembers jobID as the followed job
func (s *sqlStore) SaveActiveJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO session (id, job_id, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET job_id = excluded.job_id, updated_at = excluded.updated_at
	`), jobID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save active job: %w", err)
	}
	return nil
}

// ActiveJob returns the followed job id, or "" when there is none
func (s *sqlStore) ActiveJob(ctx context.Context) (string, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx, `SELECT job_id FROM session WHERE id = 1`).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active job: %w", err)
	}
	return jobID, nil
}

// ClearActiveJob forgets the followed job
func (s *sqlStore) ClearActiveJob(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear active job: %w", err)
	}
	return nil
}

// RecordJob inserts a history entry, or refreshes it when the id is already known
func (s *sqlStore) RecordJob(ctx context.Context, rec *models.JobRecord) error {
	now := time.Now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO jobs (job_id, input_kind, input, status, download_url, error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			input_kind = CASE WHEN excluded.input_kind = '' THEN jobs.input_kind ELSE excluded.input_kind END,
			input = CASE WHEN excluded.input = '' THEN jobs.input ELSE excluded.input END,
			status = excluded.status,
			download_url = excluded.download_url,
			error = excluded.error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`), rec.JobID, string(rec.InputKind), rec.Input, string(rec.Status), rec.DownloadURL, rec.Error,
		createdAt.UTC(), now, nullTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.JobID, err)
	}
	return nil
}

// UpdateJobStatus updates the status of a recorded job
func (s *sqlStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, downloadURL, errMsg string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if models.IsTerminalState(status) {
		completedAt = &now
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE jobs SET
			status = ?,
			download_url = CASE WHEN ? = '' THEN download_url ELSE ? END,
			error = ?,
			updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		WHERE job_id = ?
	`), string(status), downloadURL, downloadURL, errMsg, now, nullTime(completedAt), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a history entry by job id
func (s *sqlStore) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT job_id, input_kind, input, status, download_url, error, created_at, updated_at, completed_at
		FROM jobs WHERE job_id = ?
	`), jobID)

	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return rec, nil
}

// ListJobs returns up to limit entries, newest first. limit <= 0 means all.
func (s *sqlStore) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	query := `
		SELECT job_id, input_kind, input, status, download_url, error, created_at, updated_at, completed_at
		FROM jobs ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, rec)
	}
	return jobs, rows.Err()
}

// HealthCheck pings the database
func (s *sqlStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.JobRecord, error) {
	var rec models.JobRecord
	var inputKind, status string
	var completedAt sql.NullTime

	err := row.Scan(&rec.JobID, &inputKind, &rec.Input, &status, &rec.DownloadURL, &rec.Error,
		&rec.CreatedAt, &rec.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	rec.InputKind = models.InputKind(inputKind)
	rec.Status = models.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
