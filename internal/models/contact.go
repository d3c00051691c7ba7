package models

import "time"

// ContactMessage is a message sent through the contact form.
type ContactMessage struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Subject   string    `db:"subject" json:"subject"`
	Message   string    `db:"message" json:"message"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ContactRequest is the public contact form payload.
type ContactRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

// NewsletterSubscription is one subscriber row.
type NewsletterSubscription struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	SubscribedAt   time.Time  `db:"subscribed_at" json:"subscribed_at"`
	UnsubscribedAt *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
}

// NewsletterRequest carries the subscriber address.
type NewsletterRequest struct {
	Email string `json:"email" validate:"required,email"`
}
