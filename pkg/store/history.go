package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AppendHistory adds one audit entry for a delivery attempt outcome.
// History rows are never updated or deleted by the engine.
func (s *Store) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO message_history (id, phone, message, contact_name, media_url, status, channel, campaign_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING sent_at
	`, entry.ID, entry.Phone, entry.Message, entry.ContactName, entry.MediaURL,
		entry.Status, entry.Channel, entry.CampaignID, entry.Error).Scan(&entry.SentAt)
}

func (s *Store) ListHistory(ctx context.Context, campaignID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, phone, message, contact_name, media_url, status, channel, campaign_id, error, sent_at
		FROM message_history ORDER BY sent_at DESC LIMIT $1`
	args := []interface{}{limit}
	if campaignID != "" {
		query = `
		SELECT id, phone, message, contact_name, media_url, status, channel, campaign_id, error, sent_at
		FROM message_history WHERE campaign_id = $2 ORDER BY sent_at DESC LIMIT $1`
		args = append(args, campaignID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Phone, &e.Message, &e.ContactName, &e.MediaURL, &e.Status, &e.Channel, &e.CampaignID, &e.Error, &e.SentAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BlacklistedPhones filters the given phones down to the ones present on
// the block-list. The compliance gate consumes the result so it can stay
// a pure function.
func (s *Store) BlacklistedPhones(ctx context.Context, phones []string) (map[string]bool, error) {
	blocked := map[string]bool{}
	if len(phones) == 0 {
		return blocked, nil
	}
	placeholders := make([]string, len(phones))
	args := make([]interface{}, len(phones))
	for i, phone := range phones {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = phone
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT phone FROM blacklist WHERE phone IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, err
		}
		blocked[phone] = true
	}
	return blocked, rows.Err()
}

func (s *Store) AddBlacklist(ctx context.Context, phone string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blacklist (id, phone, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET reason = EXCLUDED.reason
	`, uuid.NewString(), phone, reason)
	return err
}
