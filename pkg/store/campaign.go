package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	contacts, groups, phones, err := marshalTargets(c)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO campaigns (
			id, name, channel, message_template, media_url, media_type, media_filename,
			target_type, target_contacts, target_groups, target_manual_phones,
			rate_per_second, rate_per_minute, delay_min_ms, delay_max_ms,
			require_consent, dedupe_recipients, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`, c.ID, c.Name, c.Channel, c.MessageTemplate, c.MediaURL, c.MediaType, c.MediaFilename,
		c.TargetType, contacts, groups, phones,
		c.RatePerSecond, c.RatePerMinute, c.DelayMinMs, c.DelayMaxMs,
		c.RequireConsent, c.DedupeRecipients, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, campaignSelect+` WHERE id = $1`, id)
	return scanCampaign(row)
}

func (s *Store) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, campaignSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status string) error {
	query := `UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1`
	switch status {
	case CampaignRunning:
		query = `UPDATE campaigns SET status = $2, started_at = COALESCE(started_at, NOW()), updated_at = NOW() WHERE id = $1`
	case CampaignCompleted:
		query = `UPDATE campaigns SET status = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1`
	}
	res, err := s.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) SetCampaignScheduled(ctx context.Context, id string, totalRecipients int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, total_recipients = $3, started_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, CampaignScheduled, totalRecipients)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RefreshCampaignCounters recomputes the cached rollup counters from job
// statuses. Jobs are the source of truth; the counters are a summary.
func (s *Store) RefreshCampaignCounters(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET
			sent_count = (SELECT COUNT(*) FROM send_jobs WHERE campaign_id = $1 AND status = 'sent'),
			failed_count = (SELECT COUNT(*) FROM send_jobs WHERE campaign_id = $1 AND status = 'failed'),
			updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

const campaignSelect = `
	SELECT id, name, channel, message_template, media_url, media_type, media_filename,
		target_type, target_contacts, target_groups, target_manual_phones,
		rate_per_second, rate_per_minute, delay_min_ms, delay_max_ms,
		require_consent, dedupe_recipients, status,
		total_recipients, sent_count, failed_count,
		created_at, updated_at, started_at, completed_at
	FROM campaigns`

func scanCampaign(row rowScanner) (*Campaign, error) {
	var c Campaign
	var contacts, groups, phones []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.Channel, &c.MessageTemplate, &c.MediaURL, &c.MediaType, &c.MediaFilename,
		&c.TargetType, &contacts, &groups, &phones,
		&c.RatePerSecond, &c.RatePerMinute, &c.DelayMinMs, &c.DelayMaxMs,
		&c.RequireConsent, &c.DedupeRecipients, &c.Status,
		&c.TotalRecipients, &c.SentCount, &c.FailedCount,
		&c.CreatedAt, &c.UpdatedAt, &c.StartedAt, &c.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(contacts, &c.TargetContacts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(groups, &c.TargetGroups); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(phones, &c.TargetManualPhones); err != nil {
		return nil, err
	}
	return &c, nil
}

func marshalTargets(c *Campaign) ([]byte, []byte, []byte, error) {
	contacts, err := json.Marshal(emptyIfNil(c.TargetContacts))
	if err != nil {
		return nil, nil, nil, err
	}
	groups, err := json.Marshal(emptyIfNil(c.TargetGroups))
	if err != nil {
		return nil, nil, nil, err
	}
	phones, err := json.Marshal(emptyIfNil(c.TargetManualPhones))
	if err != nil {
		return nil, nil, nil, err
	}
	return contacts, groups, phones, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
