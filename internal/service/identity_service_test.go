package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mayegue-core/internal/identity"
	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/internal/repository"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

func newIdentityServiceForTest(t *testing.T) (*IdentityService, *identity.MemoryProvider, *repository.UserRepository) {
	t.Helper()
	db := newTestDB(t)
	provider := identity.NewMemoryProvider()
	users := repository.NewUserRepository(db)
	roles := identity.NewRoleResolver([]string{"root@mayegue.cm"}, nil, []string{"school.cm"})
	svc := NewIdentityService(provider, users, roles, nil, nil, nil, nil, IdentityConfig{
		SessionSecret: "test-secret",
		SessionExpiry: time.Hour,
		Issuer:        "mayegue-test",
	})
	return svc, provider, users
}

func TestReconcileCreatesThenUpdatesWithoutTouchingRole(t *testing.T) {
	svc, _, users := newIdentityServiceForTest(t)
	ctx := context.Background()

	hint := "admin"
	merged, err := svc.Reconcile(ctx, &models.CanonicalIdentity{
		RemoteID:    "r-1",
		Email:       "Teacher@School.cm",
		DisplayName: "Prof",
		RoleHint:    &hint,
		Stats:       &models.RemoteStats{LessonsCompleted: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, merged.Role)
	assert.Equal(t, "teacher@school.cm", merged.Email)
	require.NotNil(t, merged.Stats)
	assert.Equal(t, 3, merged.Stats.LessonsCompleted)

	require.NoError(t, users.UpdateRole(ctx, merged.ID, models.RoleStudent))

	again, err := svc.Reconcile(ctx, &models.CanonicalIdentity{
		RemoteID:      "r-1",
		Email:         "teacher@school.cm",
		DisplayName:   "Professor",
		EmailVerified: true,
		RoleHint:      &hint,
	})
	require.NoError(t, err)
	assert.Equal(t, merged.ID, again.ID)
	assert.Equal(t, "Professor", again.DisplayName)
	assert.True(t, again.EmailVerified)
	assert.Equal(t, models.RoleStudent, again.Role)
	assert.NotNil(t, again.LastLoginAt)
}

func TestReconcileConcurrentCallsCreateOneUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewIdentityService(identity.NewMemoryProvider(), repository.NewUserRepository(db), nil, nil, nil, nil, nil, IdentityConfig{SessionSecret: "s"})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			merged, err := svc.Reconcile(context.Background(), &models.CanonicalIdentity{RemoteID: "same", Email: "same@example.com"})
			if assert.NoError(t, err) {
				ids[i] = merged.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, countRows(t, db, "users"))
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

type ctxAwareUserRepo struct {
	*repository.UserRepository
}

func (r ctxAwareUserRepo) FindByRemoteID(ctx context.Context, remoteID string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.UserRepository.FindByRemoteID(ctx, remoteID)
}

func TestReconcileSurvivesCallerCancellation(t *testing.T) {
	db := newTestDB(t)
	users := ctxAwareUserRepo{repository.NewUserRepository(db)}
	svc := NewIdentityService(identity.NewMemoryProvider(), users, nil, nil, nil, nil, nil, IdentityConfig{SessionSecret: "s"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	merged, err := svc.Reconcile(ctx, &models.CanonicalIdentity{RemoteID: "tab-1", Email: "tab@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "tab-1", merged.RemoteID)
	assert.Equal(t, 1, countRows(t, db, "users"))
}

type racingUserRepo struct {
	existing *models.User
	finds    int
	updated  *models.User
}

func (r *racingUserRepo) FindByRemoteID(ctx context.Context, remoteID string) (*models.User, error) {
	r.finds++
	if r.finds == 1 {
		return nil, sql.ErrNoRows
	}
	clone := *r.existing
	return &clone, nil
}

func (r *racingUserRepo) Create(ctx context.Context, user *models.User) error {
	return errors.New("create user: constraint failed: UNIQUE constraint failed: users.remote_id (2067)")
}

func (r *racingUserRepo) UpdateIdentity(ctx context.Context, user *models.User) error {
	r.updated = user
	return nil
}

func TestReconcileUniqueViolationFallsBackToUpdate(t *testing.T) {
	repo := &racingUserRepo{existing: &models.User{ID: "u-1", RemoteID: "r-1", Role: models.RoleAdmin, Active: true}}
	svc := NewIdentityService(identity.NewMemoryProvider(), repo, nil, nil, nil, nil, nil, IdentityConfig{SessionSecret: "s"})

	merged, err := svc.Reconcile(context.Background(), &models.CanonicalIdentity{RemoteID: "r-1", Email: "x@example.com", DisplayName: "X"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", merged.ID)
	assert.Equal(t, models.RoleAdmin, merged.Role)
	require.NotNil(t, repo.updated)
	assert.Equal(t, "X", repo.updated.DisplayName)
}

type brokenUserRepo struct{}

func (brokenUserRepo) FindByRemoteID(ctx context.Context, remoteID string) (*models.User, error) {
	return nil, errors.New("disk I/O error")
}
func (brokenUserRepo) Create(ctx context.Context, user *models.User) error { return nil }
func (brokenUserRepo) UpdateIdentity(ctx context.Context, user *models.User) error { return nil }

func TestReconcileStoreFailure(t *testing.T) {
	svc := NewIdentityService(identity.NewMemoryProvider(), brokenUserRepo{}, nil, nil, nil, nil, nil, IdentityConfig{SessionSecret: "s"})
	_, err := svc.Reconcile(context.Background(), &models.CanonicalIdentity{RemoteID: "r-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStoreUnavailable))

	_, err = svc.Reconcile(context.Background(), &models.CanonicalIdentity{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSignUpIssuesValidSession(t *testing.T) {
	svc, _, _ := newIdentityServiceForTest(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, models.SignUpRequest{Email: "root@mayegue.cm", Password: "secret1", DisplayName: "Root"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, session.User.Role)
	assert.True(t, session.ExpiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.RemoteID, claims.RemoteID)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	_, err = svc.ValidateToken(session.Token + "x")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	current, err := svc.CurrentUser(ctx, claims.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, current.ID)
}

func TestSignInProviderFailureLeavesStoreUntouched(t *testing.T) {
	svc, provider, _ := newIdentityServiceForTest(t)
	ctx := context.Background()

	_, err := svc.SignIn(ctx, models.SignInRequest{Email: "nobody@example.com", Password: "x"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	provider.SetUnavailable(true)
	_, err = svc.SignUp(ctx, models.SignUpRequest{Email: "ada@example.com", Password: "secret1", DisplayName: "Ada"})
	assert.True(t, appErrors.Is(err, appErrors.ErrIdentityUnavailable))

	_, err = svc.CurrentUser(ctx, "anything")
	assert.True(t, appErrors.IsUnauthorized(err))
}

func TestSignInRejectsInactiveUser(t *testing.T) {
	svc, _, users := newIdentityServiceForTest(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, models.SignUpRequest{Email: "ada@example.com", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)
	require.NoError(t, users.SetActive(ctx, session.User.ID, false))

	_, err = svc.SignIn(ctx, models.SignInRequest{Email: "ada@example.com", Password: "secret1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestWatchReconcilesSessionChanges(t *testing.T) {
	db := newTestDB(t)
	provider := identity.NewMemoryProvider()
	users := repository.NewUserRepository(db)
	svc := NewIdentityService(provider, users, nil, nil, nil, nil, nil, IdentityConfig{SessionSecret: "s"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Watch(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	created, err := provider.SignInWithFederatedProvider(context.Background(), "google.com", "kofi@example.com")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := users.FindByRemoteID(context.Background(), created.RemoteID)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestReconcileIgnoresDowngradeHint(t *testing.T) {
	db := newTestDB(t)
	roles := identity.NewRoleResolver([]string{"admin@mayegue.app"}, nil, nil)
	svc := NewIdentityService(identity.NewMemoryProvider(), repository.NewUserRepository(db), roles, nil, nil, nil, nil, IdentityConfig{SessionSecret: "s"})
	ctx := context.Background()

	first, err := svc.Reconcile(ctx, &models.CanonicalIdentity{RemoteID: "abc", Email: "admin@mayegue.app", DisplayName: "Admin"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, first.Role)

	hint := "student"
	second, err := svc.Reconcile(ctx, &models.CanonicalIdentity{RemoteID: "abc", Email: "admin@mayegue.app", DisplayName: "Chief", RoleHint: &hint})
	require.NoError(t, err)
	assert.Equal(t, "Chief", second.DisplayName)
	assert.Equal(t, models.RoleAdmin, second.Role)
	assert.Equal(t, 1, countRows(t, db, "users"))
}
