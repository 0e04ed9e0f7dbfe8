package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSendJobs inserts all jobs for a campaign in a single transaction so
// a failed materialization never leaves a half-enqueued campaign behind.
func (s *Store) CreateSendJobs(ctx context.Context, jobs []SendJob) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO send_jobs (
			id, campaign_id, recipient_phone, recipient_name, rendered_message,
			media_url, media_type, status, attempts, max_attempts, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if job.Status == "" {
			job.Status = JobPending
		}
		if job.MaxAttempts == 0 {
			job.MaxAttempts = 3
		}
		if _, err := stmt.ExecContext(ctx,
			job.ID, job.CampaignID, job.RecipientPhone, job.RecipientName, job.RenderedMessage,
			job.MediaURL, job.MediaType, job.Status, job.Attempts, job.MaxAttempts, job.ScheduledAt,
		); err != nil {
			return fmt.Errorf("insert send job %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetSendJob(ctx context.Context, id string) (*SendJob, error) {
	row := s.db.QueryRowContext(ctx, sendJobSelect+` WHERE id = $1`, id)
	return scanSendJob(row)
}

// ListJobs returns a campaign's jobs ordered by scheduled time, optionally
// filtered by status. An empty status returns every job.
func (s *Store) ListJobs(ctx context.Context, campaignID string, status string) ([]SendJob, error) {
	query := sendJobSelect + ` WHERE campaign_id = $1 ORDER BY scheduled_at, created_at`
	args := []interface{}{campaignID}
	if status != "" {
		query = sendJobSelect + ` WHERE campaign_id = $1 AND status = $2 ORDER BY scheduled_at, created_at`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []SendJob
	for rows.Next() {
		job, err := scanSendJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) UpdateJobStatus(ctx context.Context, id string, status string, attempts int, lastError string) error {
	var sentAt *time.Time
	if status == JobSent {
		now := time.Now()
		sentAt = &now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE send_jobs
		SET status = $2, attempts = $3, last_error = $4, sent_at = COALESCE($5, sent_at)
		WHERE id = $1
	`, id, status, attempts, lastError, sentAt)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// CountJobsByStatus aggregates a campaign's jobs for reporting.
func (s *Store) CountJobsByStatus(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM send_jobs WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// GroupJobErrors returns distinct last_error values with occurrence counts,
// most frequent first.
func (s *Store) GroupJobErrors(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT last_error, COUNT(*)
		FROM send_jobs
		WHERE campaign_id = $1 AND last_error <> ''
		GROUP BY last_error
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := map[string]int{}
	for rows.Next() {
		var message string
		var count int
		if err := rows.Scan(&message, &count); err != nil {
			return nil, err
		}
		grouped[message] = count
	}
	return grouped, rows.Err()
}

const sendJobSelect = `
	SELECT id, campaign_id, recipient_phone, recipient_name, rendered_message,
		media_url, media_type, status, attempts, max_attempts, last_error,
		scheduled_at, sent_at, created_at
	FROM send_jobs`

func scanSendJob(row rowScanner) (*SendJob, error) {
	var job SendJob
	err := row.Scan(
		&job.ID, &job.CampaignID, &job.RecipientPhone, &job.RecipientName, &job.RenderedMessage,
		&job.MediaURL, &job.MediaType, &job.Status, &job.Attempts, &job.MaxAttempts, &job.LastError,
		&job.ScheduledAt, &job.SentAt, &job.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
