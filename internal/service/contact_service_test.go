package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

func TestNewsletterSubscriptionIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewContactService(repository.NewContactRepository(db), repository.NewUserRepository(db), nil, nil)
	ctx := context.Background()

	first, err := svc.Subscribe(ctx, models.NewsletterRequest{Email: " Reader@Mayegue.app "})
	require.NoError(t, err)
	assert.Equal(t, "reader@mayegue.app", first.Email)
	assert.True(t, first.IsActive)

	second, err := svc.Subscribe(ctx, models.NewsletterRequest{Email: "reader@mayegue.app"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, countRows(t, db, "newsletter_subscriptions"))

	require.NoError(t, svc.Unsubscribe(ctx, models.NewsletterRequest{Email: "reader@mayegue.app"}))
	err = svc.Unsubscribe(ctx, models.NewsletterRequest{Email: "reader@mayegue.app"})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	again, err := svc.Subscribe(ctx, models.NewsletterRequest{Email: "reader@mayegue.app"})
	require.NoError(t, err)
	assert.True(t, again.IsActive)
	assert.Nil(t, again.UnsubscribedAt)

	_, err = svc.Subscribe(ctx, models.NewsletterRequest{Email: "nope"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestContactMessages(t *testing.T) {
	db := newTestDB(t)
	admin := createUser(t, db, "admin-1", models.RoleAdmin)
	student := createUser(t, db, "student-1", models.RoleStudent)
	svc := NewContactService(repository.NewContactRepository(db), repository.NewUserRepository(db), nil, nil)
	ctx := context.Background()

	msg, err := svc.SubmitContactMessage(ctx, models.ContactRequest{Name: "Ama", Email: "ama@example.com", Subject: "Audio", Message: "The lesson audio does not play."})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	_, err = svc.SubmitContactMessage(ctx, models.ContactRequest{Name: "Ama", Email: "ama@example.com"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.ListMessages(ctx, student.RemoteID, false)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	msgs, err := svc.ListMessages(ctx, admin.RemoteID, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Audio", msgs[0].Subject)
}
