package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO templates (id, name, content, media_url, media_type, media_filename)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, t.ID, t.Name, t.Content, t.MediaURL, t.MediaType, t.MediaFilename).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*Template, error) {
	var t Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, content, media_url, media_type, media_filename, created_at, updated_at
		FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Content, &t.MediaURL, &t.MediaType, &t.MediaFilename, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, content, media_url, media_type, media_filename, created_at, updated_at
		FROM templates ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Content, &t.MediaURL, &t.MediaType, &t.MediaFilename, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t *Template) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET name = $2, content = $3, media_url = $4, media_type = $5, media_filename = $6, updated_at = NOW()
		WHERE id = $1
	`, t.ID, t.Name, t.Content, t.MediaURL, t.MediaType, t.MediaFilename)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
