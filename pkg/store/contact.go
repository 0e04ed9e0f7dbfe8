package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

func (s *Store) CreateContact(ctx context.Context, c *Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, name, surname, phone, email, address, company, consent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, c.ID, c.Name, c.Surname, c.Phone, c.Email, c.Address, c.Company, c.Consent).Scan(&c.CreatedAt)
}

func (s *Store) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, surname, phone, email, address, company, consent, created_at
		FROM contacts WHERE id = $1
	`, id)
	return scanContact(row)
}

func (s *Store) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, surname, phone, email, address, company, consent, created_at
		FROM contacts ORDER BY created_at DESC
	`)
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

func (s *Store) UpdateContact(ctx context.Context, c *Contact) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET name = $2, surname = $3, phone = $4, email = $5, address = $6, company = $7, consent = $8
		WHERE id = $1
	`, c.ID, c.Name, c.Surname, c.Phone, c.Email, c.Address, c.Company, c.Consent)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) DeleteContact(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.Name, &c.Surname, &c.Phone, &c.Email, &c.Address, &c.Company, &c.Consent, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
