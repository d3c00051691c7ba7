package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/mayegue-core/internal/models"
)

// ContactRepository stores contact messages and newsletter subscribers.
type ContactRepository struct {
	db sqlx.ExtContext
}

// NewContactRepository constructs the repository.
func NewContactRepository(db sqlx.ExtContext) *ContactRepository {
	return &ContactRepository{db: db}
}

// CreateMessage stores a contact form submission.
func (r *ContactRepository) CreateMessage(ctx context.Context, msg *models.ContactMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO contact_messages (id, name, email, subject, message, is_read, created_at)
VALUES (:id, :name, :email, :subject, :message, :is_read, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, msg); err != nil {
		return fmt.Errorf("create contact message: %w", err)
	}
	return nil
}

// ListMessages returns messages newest first.
func (r *ContactRepository) ListMessages(ctx context.Context, unreadOnly bool) ([]models.ContactMessage, error) {
	query := `SELECT id, name, email, subject, message, is_read, created_at FROM contact_messages`
	if unreadOnly {
		query += ` WHERE is_read = 0`
	}
	query += ` ORDER BY created_at DESC`
	var msgs []models.ContactMessage
	if err := sqlx.SelectContext(ctx, r.db, &msgs, query); err != nil {
		return nil, fmt.Errorf("list contact messages: %w", err)
	}
	return msgs, nil
}

// Subscribe activates an address, creating it on first sight.
func (r *ContactRepository) Subscribe(ctx context.Context, email string) error {
	const query = `INSERT INTO newsletter_subscriptions (id, email, is_active, subscribed_at) VALUES (?, ?, 1, ?)
ON CONFLICT (email) DO UPDATE SET is_active = 1, unsubscribed_at = NULL,
  subscribed_at = CASE WHEN newsletter_subscriptions.is_active = 1 THEN newsletter_subscriptions.subscribed_at ELSE excluded.subscribed_at END`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), email, time.Now().UTC()); err != nil {
		return fmt.Errorf("subscribe newsletter: %w", err)
	}
	return nil
}

// Unsubscribe deactivates an address. Unknown addresses return sql.ErrNoRows.
func (r *ContactRepository) Unsubscribe(ctx context.Context, email string) error {
	const query = `UPDATE newsletter_subscriptions SET is_active = 0, unsubscribed_at = ? WHERE email = ? AND is_active = 1`
	return execAffecting(ctx, r.db, "unsubscribe newsletter", query, time.Now().UTC(), email)
}

// FindSubscription returns a subscriber row.
func (r *ContactRepository) FindSubscription(ctx context.Context, email string) (*models.NewsletterSubscription, error) {
	const query = `SELECT id, email, is_active, subscribed_at, unsubscribed_at FROM newsletter_subscriptions WHERE email = ?`
	var sub models.NewsletterSubscription
	if err := sqlx.GetContext(ctx, r.db, &sub, query, email); err != nil {
		return nil, err
	}
	return &sub, nil
}
