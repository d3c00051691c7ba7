package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

type contactRepository interface {
	CreateMessage(ctx context.Context, msg *models.ContactMessage) error
	ListMessages(ctx context.Context, unreadOnly bool) ([]models.ContactMessage, error)
	Subscribe(ctx context.Context, email string) error
	Unsubscribe(ctx context.Context, email string) error
	FindSubscription(ctx context.Context, email string) (*models.NewsletterSubscription, error)
}

// ContactService stores contact form messages and newsletter subscribers.
type ContactService struct {
	repo      contactRepository
	users     progressUserReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewContactService constructs a ContactService.
func NewContactService(repo contactRepository, users progressUserReader, validate *validator.Validate, logger *zap.Logger) *ContactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ContactService{repo: repo, users: users, validator: validate, logger: logger}
}

// SubmitContactMessage stores a message from the public contact form.
func (s *ContactService) SubmitContactMessage(ctx context.Context, req models.ContactRequest) (*models.ContactMessage, error) {
	req.Email = normaliseEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid contact message")
	}
	msg := &models.ContactMessage{
		Name:    strings.TrimSpace(req.Name),
		Email:   req.Email,
		Subject: strings.TrimSpace(req.Subject),
		Message: strings.TrimSpace(req.Message),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to store contact message")
	}
	s.logger.Info("contact message received", zap.String("id", msg.ID), zap.String("subject", msg.Subject))
	return msg, nil
}

// ListMessages returns contact messages, optionally unread only. Admins only.
func (s *ContactService) ListMessages(ctx context.Context, remoteID string, unreadOnly bool) ([]models.ContactMessage, error) {
	if _, err := authorize(ctx, s.users, remoteID, models.RoleAdmin); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, unreadOnly)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to list contact messages")
	}
	return msgs, nil
}

// Subscribe activates a newsletter address. Repeating it is a no-op.
func (s *ContactService) Subscribe(ctx context.Context, req models.NewsletterRequest) (*models.NewsletterSubscription, error) {
	email, err := s.subscriberEmail(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Subscribe(ctx, email); err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to subscribe")
	}
	sub, err := s.repo.FindSubscription(ctx, email)
	if err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to load subscription")
	}
	return sub, nil
}

// Unsubscribe deactivates an address. Unknown or inactive addresses are
// reported as not found.
func (s *ContactService) Unsubscribe(ctx context.Context, req models.NewsletterRequest) error {
	email, err := s.subscriberEmail(req)
	if err != nil {
		return err
	}
	if err := s.repo.Unsubscribe(ctx, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no active subscription for this address")
		}
		return appErrors.StoreUnavailable(err, "failed to unsubscribe")
	}
	return nil
}

func (s *ContactService) subscriberEmail(req models.NewsletterRequest) (string, error) {
	req.Email = normaliseEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.ErrValidation.Wrap(err, "invalid email address")
	}
	return req.Email, nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
