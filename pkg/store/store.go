package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
)

// Store wraps the record database shared by the whole engine. All campaign,
// job and session state lives here; in-memory state is only ever a cache of it.
type Store struct {
	db *sql.DB
}

func Open() (*Store, error) {
	dsn, err := env.GetEnvString("DATASTORE_URI")
	if err != nil {
		return nil, err
	}
	return OpenDSN(dsn)
}

func OpenDSN(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	db.SetMaxOpenConns(env.GetEnvIntOrDefault("DATASTORE_MAX_OPEN_CONNS", 10))
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema when it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func normalizeDSN(dsn string) string {
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		surname TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		consent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS group_contacts (
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
		added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (group_id, contact_id)
	)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		media_url TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		media_filename TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		channel TEXT NOT NULL,
		message_template TEXT NOT NULL,
		media_url TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		media_filename TEXT NOT NULL DEFAULT '',
		target_type TEXT NOT NULL,
		target_contacts JSONB NOT NULL DEFAULT '[]',
		target_groups JSONB NOT NULL DEFAULT '[]',
		target_manual_phones JSONB NOT NULL DEFAULT '[]',
		rate_per_second INTEGER NOT NULL DEFAULT 1,
		rate_per_minute INTEGER NOT NULL DEFAULT 20,
		delay_min_ms INTEGER NOT NULL DEFAULT 2000,
		delay_max_ms INTEGER NOT NULL DEFAULT 5000,
		require_consent BOOLEAN NOT NULL DEFAULT TRUE,
		dedupe_recipients BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL DEFAULT 'draft',
		total_recipients INTEGER NOT NULL DEFAULT 0,
		sent_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS send_jobs (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		recipient_phone TEXT NOT NULL,
		recipient_name TEXT NOT NULL DEFAULT '',
		rendered_message TEXT NOT NULL,
		media_url TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT NOT NULL DEFAULT '',
		scheduled_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS send_jobs_campaign_status_idx
		ON send_jobs (campaign_id, status, scheduled_at)`,
	`CREATE TABLE IF NOT EXISTS wa_sessions (
		name TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'disconnected',
		qr_code TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		device_jid TEXT NOT NULL DEFAULT '',
		last_connected_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS message_history (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL,
		message TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		media_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		campaign_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS blacklist (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		reason TEXT NOT NULL DEFAULT '',
		added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
