package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

func TestMemoryProviderSignUpAndSignIn(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	created, err := p.SignUpWithEmail(ctx, "Ada@Example.com", "s3cret!", "Ada")
	require.NoError(t, err)
	assert.NotEmpty(t, created.RemoteID)
	assert.Equal(t, "ada@example.com", created.Email)

	_, err = p.SignUpWithEmail(ctx, "ada@example.com", "other", "Ada")
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	signedIn, err := p.SignInWithEmail(ctx, "ada@example.com", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, created.RemoteID, signedIn.RemoteID)

	_, err = p.SignInWithEmail(ctx, "ada@example.com", "wrong")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestMemoryProviderFederatedIdentityIsStable(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()

	first, err := p.SignInWithFederatedProvider(ctx, "google.com", "kofi@example.com")
	require.NoError(t, err)
	second, err := p.SignInWithFederatedProvider(ctx, "google.com", "KOFI@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.RemoteID, second.RemoteID)
	assert.True(t, second.EmailVerified)

	_, err = p.SignInWithFederatedProvider(ctx, "google.com", "not-an-email")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestMemoryProviderUnavailable(t *testing.T) {
	p := NewMemoryProvider()
	p.SetUnavailable(true)

	_, err := p.SignInWithEmail(context.Background(), "a@b.c", "x")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.True(t, IsUnavailable(p.RequestPasswordReset(context.Background(), "a@b.c")))
}

func TestMemoryProviderNotifiesListeners(t *testing.T) {
	p := NewMemoryProvider()
	events := make(chan *models.CanonicalIdentity, 4)
	unsubscribe := p.OnSessionChanged(func(identity *models.CanonicalIdentity) {
		events <- identity
	})

	created, err := p.SignUpWithEmail(context.Background(), "ada@example.com", "pw", "Ada")
	require.NoError(t, err)

	select {
	case got := <-events:
		require.NotNil(t, got)
		assert.Equal(t, created.RemoteID, got.RemoteID)
	case <-time.After(time.Second):
		t.Fatal("listener not notified of sign-in")
	}

	require.NoError(t, p.SignOut(context.Background(), created.RemoteID))
	select {
	case got := <-events:
		assert.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("listener not notified of sign-out")
	}

	unsubscribe()
	_, err = p.SignInWithEmail(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	select {
	case <-events:
		t.Fatal("unsubscribed listener was notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryProviderVerificationAndReset(t *testing.T) {
	p := NewMemoryProvider()
	ctx := context.Background()
	created, err := p.SignUpWithEmail(ctx, "ada@example.com", "pw", "Ada")
	require.NoError(t, err)

	require.NoError(t, p.SendVerificationEmail(ctx, created.RemoteID))
	signedIn, err := p.SignInWithEmail(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, signedIn.EmailVerified)

	err = p.SendVerificationEmail(ctx, "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, p.RequestPasswordReset(ctx, " Ada@Example.com"))
	assert.Equal(t, []string{"ada@example.com"}, p.PasswordResets())
}
