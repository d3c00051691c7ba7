package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

type memoryAccount struct {
	identity     models.CanonicalIdentity
	passwordHash []byte
}

// MemoryProvider is an in-process identity provider for local development
// and tests. Passwords are stored as bcrypt hashes.
type MemoryProvider struct {
	mu          sync.RWMutex
	byEmail     map[string]*memoryAccount
	byRemoteID  map[string]*memoryAccount
	resets      []string
	unavailable bool
	listeners   listenerSet
	cost        int
}

// NewMemoryProvider constructs an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		byEmail:    make(map[string]*memoryAccount),
		byRemoteID: make(map[string]*memoryAccount),
		cost:       bcrypt.MinCost,
	}
}

// SetUnavailable simulates an outage of the remote service.
func (p *MemoryProvider) SetUnavailable(down bool) {
	p.mu.Lock()
	p.unavailable = down
	p.mu.Unlock()
}

func (p *MemoryProvider) checkAvailable() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.unavailable {
		return appErrors.Clone(appErrors.ErrIdentityUnavailable, "identity provider is offline")
	}
	return nil
}

// SignUpWithEmail registers a new account.
func (p *MemoryProvider) SignUpWithEmail(ctx context.Context, email, password, displayName string) (*models.CanonicalIdentity, error) {
	if err := p.checkAvailable(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, appErrors.ErrInternal.Wrap(err, "failed to hash password")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byEmail[email]; exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}
	account := &memoryAccount{
		identity: models.CanonicalIdentity{
			RemoteID:    uuid.NewString(),
			Email:       email,
			DisplayName: displayName,
		},
		passwordHash: hash,
	}
	p.byEmail[email] = account
	p.byRemoteID[account.identity.RemoteID] = account
	identity := account.identity
	go p.listeners.notify(&identity)
	return &identity, nil
}

// SignInWithEmail verifies the password.
func (p *MemoryProvider) SignInWithEmail(ctx context.Context, email, password string) (*models.CanonicalIdentity, error) {
	if err := p.checkAvailable(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	account, ok := p.byEmail[strings.ToLower(strings.TrimSpace(email))]
	p.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(account.passwordHash, []byte(password)) != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	identity := account.identity
	go p.listeners.notify(&identity)
	return &identity, nil
}

// SignInWithFederatedProvider treats token as the federated account's email.
// The remote id is stable per provider and email.
func (p *MemoryProvider) SignInWithFederatedProvider(ctx context.Context, providerID, token string) (*models.CanonicalIdentity, error) {
	if err := p.checkAvailable(); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(token))
	if providerID == "" || !strings.Contains(email, "@") {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "federated token rejected")
	}
	remoteID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(providerID+":"+email)).String()

	p.mu.Lock()
	account, ok := p.byRemoteID[remoteID]
	if !ok {
		account = &memoryAccount{identity: models.CanonicalIdentity{
			RemoteID:      remoteID,
			Email:         email,
			DisplayName:   strings.SplitN(email, "@", 2)[0],
			EmailVerified: true,
		}}
		p.byRemoteID[remoteID] = account
	}
	identity := account.identity
	p.mu.Unlock()

	go p.listeners.notify(&identity)
	return &identity, nil
}

// SignOut notifies listeners that no session is active.
func (p *MemoryProvider) SignOut(ctx context.Context, remoteID string) error {
	if err := p.checkAvailable(); err != nil {
		return err
	}
	go p.listeners.notify(nil)
	return nil
}

// OnSessionChanged registers a listener.
func (p *MemoryProvider) OnSessionChanged(listener SessionListener) func() {
	return p.listeners.add(listener)
}

// SendVerificationEmail marks the account verified immediately.
func (p *MemoryProvider) SendVerificationEmail(ctx context.Context, remoteID string) error {
	if err := p.checkAvailable(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	account, ok := p.byRemoteID[remoteID]
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "account not found")
	}
	account.identity.EmailVerified = true
	return nil
}

// RequestPasswordReset records the request. Unknown addresses succeed
// silently.
func (p *MemoryProvider) RequestPasswordReset(ctx context.Context, email string) error {
	if err := p.checkAvailable(); err != nil {
		return err
	}
	p.mu.Lock()
	p.resets = append(p.resets, strings.ToLower(strings.TrimSpace(email)))
	p.mu.Unlock()
	return nil
}

// PasswordResets lists addresses that requested a reset.
func (p *MemoryProvider) PasswordResets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.resets))
	copy(out, p.resets)
	return out
}

// SetRemoteStats attaches remote gamification stats to an account.
func (p *MemoryProvider) SetRemoteStats(remoteID string, stats *models.RemoteStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if account, ok := p.byRemoteID[remoteID]; ok {
		account.identity.Stats = stats
	}
}
