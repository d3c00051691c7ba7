// Package identity talks to the remote identity provider and derives local
// roles from identity attributes.
package identity

import (
	"context"
	"sync"

	"github.com/noah-isme/mayegue-core/internal/models"
)

// SessionListener receives the signed-in identity, or nil after sign-out.
type SessionListener func(identity *models.CanonicalIdentity)

// Provider is the remote identity service boundary.
type Provider interface {
	SignUpWithEmail(ctx context.Context, email, password, displayName string) (*models.CanonicalIdentity, error)
	SignInWithEmail(ctx context.Context, email, password string) (*models.CanonicalIdentity, error)
	SignInWithFederatedProvider(ctx context.Context, providerID, token string) (*models.CanonicalIdentity, error)
	SignOut(ctx context.Context, remoteID string) error
	OnSessionChanged(listener SessionListener) (unsubscribe func())
	SendVerificationEmail(ctx context.Context, remoteID string) error
	RequestPasswordReset(ctx context.Context, email string) error
}

type listenerSet struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]SessionListener
}

func (s *listenerSet) add(l SessionListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]SessionListener)
	}
	id := s.next
	s.next++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *listenerSet) notify(identity *models.CanonicalIdentity) {
	s.mu.RLock()
	snapshot := make([]SessionListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		snapshot = append(snapshot, l)
	}
	s.mu.RUnlock()
	for _, l := range snapshot {
		l(identity)
	}
}
