package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/mayegue-core/internal/identity"
	"github.com/noah-isme/mayegue-core/internal/models"
	"github.com/noah-isme/mayegue-core/pkg/database"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

// Reconciliation outcomes reported to metrics.
const (
	reconcileCreated = "created"
	reconcileUpdated = "updated"
	reconcileRetried = "retried"
	reconcileFailed  = "failed"
)

type identityUserRepository interface {
	FindByRemoteID(ctx context.Context, remoteID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateIdentity(ctx context.Context, user *models.User) error
}

// IdentityConfig defines how sessions are signed and cached.
type IdentityConfig struct {
	SessionSecret string
	SessionExpiry time.Duration
	Issuer        string
	CacheTTL      time.Duration
}

// IdentityService mirrors remote identities into the local users table and
// issues session tokens for them.
type IdentityService struct {
	provider  identity.Provider
	users     identityUserRepository
	roles     *identity.RoleResolver
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    IdentityConfig
	group     singleflight.Group
	now       func() time.Time
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(provider identity.Provider, users identityUserRepository, roles *identity.RoleResolver, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config IdentityConfig) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.SessionExpiry <= 0 {
		config.SessionExpiry = 24 * time.Hour
	}
	return &IdentityService{
		provider:  provider,
		users:     users,
		roles:     roles,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile finds or creates the local user for a remote identity and
// refreshes the fields the provider owns. The local role is assigned once at
// creation and never changed here.
func (s *IdentityService) Reconcile(ctx context.Context, ident *models.CanonicalIdentity) (*models.MergedUser, error) {
	if ident == nil || strings.TrimSpace(ident.RemoteID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "remote identity is required")
	}

	// Concurrent callers share one store write, which outlives any one
	// caller's context.
	snapshot := *ident
	shared := context.WithoutCancel(ctx)
	value, err, _ := s.group.Do(ident.RemoteID, func() (interface{}, error) {
		return s.reconcile(shared, &snapshot)
	})
	if err != nil {
		s.metrics.RecordReconciliation(reconcileFailed)
		return nil, err
	}
	user := *value.(*models.User)
	merged := &models.MergedUser{User: user, Stats: ident.Stats}

	if err := s.cache.Set(ctx, IdentityCacheKey(user.RemoteID), merged, s.config.CacheTTL); err != nil {
		s.logger.Debug("identity cache write skipped", zap.Error(err))
	}
	return merged, nil
}

func (s *IdentityService) reconcile(ctx context.Context, ident *models.CanonicalIdentity) (*models.User, error) {
	existing, err := s.users.FindByRemoteID(ctx, ident.RemoteID)
	if err == nil {
		return s.refresh(ctx, existing, ident, reconcileUpdated)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.StoreUnavailable(err, "failed to load local user")
	}

	now := s.now()
	email := strings.ToLower(strings.TrimSpace(ident.Email))
	user := &models.User{
		RemoteID:      ident.RemoteID,
		Email:         email,
		DisplayName:   displayNameFor(ident),
		Role:          s.roles.Resolve(email),
		Active:        true,
		EmailVerified: ident.EmailVerified,
		LastLoginAt:   &now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, appErrors.StoreUnavailable(err, "failed to create local user")
		}
		// Another writer created the row between the lookup and the insert.
		existing, ferr := s.users.FindByRemoteID(ctx, ident.RemoteID)
		if ferr != nil {
			return nil, appErrors.StoreUnavailable(ferr, "failed to reload local user")
		}
		return s.refresh(ctx, existing, ident, reconcileRetried)
	}

	s.logger.Info("local user created",
		zap.String("user_id", user.ID),
		zap.String("remote_id", user.RemoteID),
		zap.String("role", string(user.Role)))
	s.metrics.RecordReconciliation(reconcileCreated)
	return user, nil
}

func (s *IdentityService) refresh(ctx context.Context, user *models.User, ident *models.CanonicalIdentity, outcome string) (*models.User, error) {
	now := s.now()
	if email := strings.ToLower(strings.TrimSpace(ident.Email)); email != "" {
		user.Email = email
	}
	user.DisplayName = displayNameFor(ident)
	user.EmailVerified = ident.EmailVerified
	user.LastLoginAt = &now
	if err := s.users.UpdateIdentity(ctx, user); err != nil {
		return nil, appErrors.StoreUnavailable(err, "failed to update local user")
	}
	s.metrics.RecordReconciliation(outcome)
	return user, nil
}

func displayNameFor(ident *models.CanonicalIdentity) string {
	if name := strings.TrimSpace(ident.DisplayName); name != "" {
		return name
	}
	if at := strings.Index(ident.Email, "@"); at > 0 {
		return ident.Email[:at]
	}
	return ident.Email
}

// SignUp registers with the provider, reconciles and opens a session.
func (s *IdentityService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid sign up payload")
	}
	ident, err := s.provider.SignUpWithEmail(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, ident)
}

// SignIn authenticates with email credentials.
func (s *IdentityService) SignIn(ctx context.Context, req models.SignInRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid sign in payload")
	}
	ident, err := s.provider.SignInWithEmail(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, ident)
}

// SignInFederated authenticates through an external provider token.
func (s *IdentityService) SignInFederated(ctx context.Context, req models.FederatedSignInRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.ErrValidation.Wrap(err, "invalid federated sign in payload")
	}
	ident, err := s.provider.SignInWithFederatedProvider(ctx, req.ProviderID, req.Token)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, ident)
}

func (s *IdentityService) openSession(ctx context.Context, ident *models.CanonicalIdentity) (*models.Session, error) {
	merged, err := s.Reconcile(ctx, ident)
	if err != nil {
		return nil, err
	}
	if !merged.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	token, expiresAt, err := s.issueToken(&merged.User)
	if err != nil {
		return nil, appErrors.ErrInternal.Wrap(err, "failed to create session token")
	}
	return &models.Session{Token: token, ExpiresAt: expiresAt, User: *merged}, nil
}

func (s *IdentityService) issueToken(user *models.User) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.SessionExpiry)
	claims := &models.SessionClaims{
		UserID:   user.ID,
		RemoteID: user.RemoteID,
		Role:     user.Role,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.RemoteID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.SessionSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses a session token and returns its claims.
func (s *IdentityService) ValidateToken(tokenString string) (*models.SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.SessionSecret), nil
	})
	if err != nil {
		return nil, appErrors.ErrUnauthorized.Wrap(err, "invalid token")
	}
	claims, ok := token.Claims.(*models.SessionClaims)
	if !ok || !token.Valid || claims.RemoteID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// SignOut ends the remote session and drops the cached view.
func (s *IdentityService) SignOut(ctx context.Context, remoteID string) error {
	if err := s.provider.SignOut(ctx, remoteID); err != nil {
		return err
	}
	s.cache.Evict(ctx, IdentityCacheKey(remoteID))
	return nil
}

// SendVerificationEmail delegates to the provider.
func (s *IdentityService) SendVerificationEmail(ctx context.Context, remoteID string) error {
	return s.provider.SendVerificationEmail(ctx, remoteID)
}

// RequestPasswordReset delegates to the provider.
func (s *IdentityService) RequestPasswordReset(ctx context.Context, req models.PasswordResetRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.ErrValidation.Wrap(err, "invalid password reset payload")
	}
	return s.provider.RequestPasswordReset(ctx, req.Email)
}

// CurrentUser returns the merged view for a signed-in user, served from cache
// when possible.
func (s *IdentityService) CurrentUser(ctx context.Context, remoteID string) (*models.MergedUser, error) {
	var cached models.MergedUser
	if hit, _ := s.cache.Get(ctx, IdentityCacheKey(remoteID), &cached); hit {
		return &cached, nil
	}
	user, err := s.users.FindByRemoteID(ctx, remoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user is not reconciled")
		}
		return nil, appErrors.StoreUnavailable(err, "failed to load user")
	}
	merged := &models.MergedUser{User: *user}
	if err := s.cache.Set(ctx, IdentityCacheKey(remoteID), merged, s.config.CacheTTL); err != nil {
		s.logger.Debug("identity cache write skipped", zap.Error(err))
	}
	return merged, nil
}

// Watch reconciles every identity the provider reports as signed in until
// ctx is cancelled.
func (s *IdentityService) Watch(ctx context.Context) error {
	unsubscribe := s.provider.OnSessionChanged(func(ident *models.CanonicalIdentity) {
		if ident == nil || ctx.Err() != nil {
			return
		}
		if _, err := s.Reconcile(ctx, ident); err != nil {
			s.logger.Warn("session reconciliation failed", zap.String("remote_id", ident.RemoteID), zap.Error(err))
		}
	})
	defer unsubscribe()
	<-ctx.Done()
	return nil
}
