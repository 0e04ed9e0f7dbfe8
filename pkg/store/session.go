package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertSessionStatus records a session state transition. Every registry
// event lands here so state survives a process restart.
func (s *Store) UpsertSessionStatus(ctx context.Context, name string, status string, qrCode string, phoneNumber string) error {
	var lastConnected *time.Time
	if status == SessionConnected {
		now := time.Now()
		lastConnected = &now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wa_sessions (name, status, qr_code, phone_number, last_connected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (name) DO UPDATE SET
			status = EXCLUDED.status,
			qr_code = EXCLUDED.qr_code,
			phone_number = EXCLUDED.phone_number,
			last_connected_at = COALESCE(EXCLUDED.last_connected_at, wa_sessions.last_connected_at),
			updated_at = NOW()
	`, name, status, qrCode, phoneNumber, lastConnected)
	return err
}

// SetSessionDevice pins the paired whatsmeow device to a session name so
// the registry can re-bind it after a restart.
func (s *Store) SetSessionDevice(ctx context.Context, name string, deviceJID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wa_sessions SET device_jid = $2, updated_at = NOW() WHERE name = $1
	`, name, deviceJID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) GetSession(ctx context.Context, name string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT name, status, qr_code, phone_number, device_jid, last_connected_at, created_at, updated_at
		FROM wa_sessions WHERE name = $1
	`, name).Scan(&sess.Name, &sess.Status, &sess.QRCode, &sess.PhoneNumber, &sess.DeviceJID, &sess.LastConnectedAt, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, qr_code, phone_number, device_jid, last_connected_at, created_at, updated_at
		FROM wa_sessions ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.Name, &sess.Status, &sess.QRCode, &sess.PhoneNumber, &sess.DeviceJID, &sess.LastConnectedAt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wa_sessions`).Scan(&count)
	return count, err
}

func (s *Store) DeleteSession(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wa_sessions WHERE name = $1`, name)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
