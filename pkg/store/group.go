package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO groups (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, g.ID, g.Name, g.Description).Scan(&g.CreatedAt)
}

func (s *Store) GetGroup(ctx context.Context, id string) (*Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM groups WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at FROM groups ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) AddGroupContact(ctx context.Context, groupID string, contactID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_contacts (group_id, contact_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, contact_id) DO NOTHING
	`, groupID, contactID)
	return err
}

func (s *Store) RemoveGroupContact(ctx context.Context, groupID string, contactID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM group_contacts WHERE group_id = $1 AND contact_id = $2
	`, groupID, contactID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// GroupContacts returns the current membership of a group as full contact
// records, the shape the materializer consumes.
func (s *Store) GroupContacts(ctx context.Context, groupID string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.surname, c.phone, c.email, c.address, c.company, c.consent, c.created_at
		FROM contacts c
		JOIN group_contacts gc ON gc.contact_id = c.id
		WHERE gc.group_id = $1
		ORDER BY gc.added_at
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}
