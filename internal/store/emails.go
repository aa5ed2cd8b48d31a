package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Email is the slice of an ingested email the agent needs.
type Email struct {
	ID              string `json:"id"`
	UserEmail       string `json:"userEmail"`
	UnsubscribeLink string `json:"unsubscribeLink"`
}

// EmailRepository resolves an email id to its mailbox and unsubscribe link.
// Ingestion owns the table; the agent only reads it (Put exists for seeding).
type EmailRepository struct {
	db *sql.DB
}

func NewEmailRepository(db *sql.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

func (r *EmailRepository) Lookup(ctx context.Context, id string) (*Email, error) {
	var (
		e    Email
		link sql.NullString
	)
	err := r.db.QueryRowContext(ctx, "SELECT id, user_email, unsubscribe_link FROM emails WHERE id = ?", id).
		Scan(&e.ID, &e.UserEmail, &link)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %s: %w", id, ErrEmailNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	e.UnsubscribeLink = link.String
	return &e, nil
}

func (r *EmailRepository) Put(ctx context.Context, e Email) error {
	var link sql.NullString
	if e.UnsubscribeLink != "" {
		link = sql.NullString{String: e.UnsubscribeLink, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO emails (id, user_email, unsubscribe_link) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_email = excluded.user_email, unsubscribe_link = excluded.unsubscribe_link`,
		e.ID, e.UserEmail, link,
	)
	if err != nil {
		return fmt.Errorf("failed to store email: %w", err)
	}
	return nil
}
