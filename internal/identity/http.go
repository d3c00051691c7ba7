package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

// HTTPConfig configures the hosted provider client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider is a REST client for the hosted identity provider.
type HTTPProvider struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	logger    *zap.Logger
	listeners listenerSet
}

// NewHTTPProvider constructs the client. A nil client gets one with the
// configured timeout.
func NewHTTPProvider(cfg HTTPConfig, client *http.Client, logger *zap.Logger) *HTTPProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger,
	}
}

type identityPayload struct {
	RemoteID      string              `json:"remote_id"`
	Email         string              `json:"email"`
	DisplayName   string              `json:"display_name"`
	EmailVerified bool                `json:"email_verified"`
	RoleHint      *string             `json:"role_hint,omitempty"`
	Stats         *models.RemoteStats `json:"stats,omitempty"`
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SignUpWithEmail registers an account remotely.
func (p *HTTPProvider) SignUpWithEmail(ctx context.Context, email, password, displayName string) (*models.CanonicalIdentity, error) {
	body := map[string]string{"email": email, "password": password, "display_name": displayName}
	return p.authenticate(ctx, "/v1/accounts/signup", body)
}

// SignInWithEmail authenticates with email credentials.
func (p *HTTPProvider) SignInWithEmail(ctx context.Context, email, password string) (*models.CanonicalIdentity, error) {
	body := map[string]string{"email": email, "password": password}
	return p.authenticate(ctx, "/v1/accounts/signin", body)
}

// SignInWithFederatedProvider exchanges an external provider token.
func (p *HTTPProvider) SignInWithFederatedProvider(ctx context.Context, providerID, token string) (*models.CanonicalIdentity, error) {
	body := map[string]string{"provider_id": providerID, "token": token}
	return p.authenticate(ctx, "/v1/accounts/federated", body)
}

func (p *HTTPProvider) authenticate(ctx context.Context, path string, body interface{}) (*models.CanonicalIdentity, error) {
	var payload identityPayload
	if err := p.do(ctx, path, body, &payload); err != nil {
		return nil, err
	}
	if payload.RemoteID == "" {
		return nil, appErrors.Clone(appErrors.ErrIdentityUnavailable, "identity provider returned no remote id")
	}
	identity := &models.CanonicalIdentity{
		RemoteID:      payload.RemoteID,
		Email:         payload.Email,
		DisplayName:   payload.DisplayName,
		EmailVerified: payload.EmailVerified,
		RoleHint:      payload.RoleHint,
		Stats:         payload.Stats,
	}
	snapshot := *identity
	go p.listeners.notify(&snapshot)
	return identity, nil
}

// SignOut revokes the remote session.
func (p *HTTPProvider) SignOut(ctx context.Context, remoteID string) error {
	if err := p.do(ctx, "/v1/accounts/signout", map[string]string{"remote_id": remoteID}, nil); err != nil {
		return err
	}
	go p.listeners.notify(nil)
	return nil
}

// OnSessionChanged registers a listener for sign-in and sign-out events.
func (p *HTTPProvider) OnSessionChanged(listener SessionListener) func() {
	return p.listeners.add(listener)
}

// SendVerificationEmail asks the provider to send a verification link.
func (p *HTTPProvider) SendVerificationEmail(ctx context.Context, remoteID string) error {
	return p.do(ctx, "/v1/accounts/verify-email", map[string]string{"remote_id": remoteID}, nil)
}

// RequestPasswordReset starts the provider's reset flow.
func (p *HTTPProvider) RequestPasswordReset(ctx context.Context, email string) error {
	return p.do(ctx, "/v1/accounts/password-reset", map[string]string{"email": email}, nil)
}

func (p *HTTPProvider) do(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return appErrors.ErrInternal.Wrap(err, "failed to encode identity request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return appErrors.ErrInternal.Wrap(err, "failed to build identity request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("identity provider unreachable", zap.String("path", path), zap.Error(err))
		return appErrors.ErrIdentityUnavailable.Wrap(err, "identity provider unreachable")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return appErrors.ErrIdentityUnavailable.Wrap(err, "failed to read identity response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return appErrors.ErrIdentityUnavailable.Wrap(err, "malformed identity response")
		}
		return nil
	}
	return mapStatus(resp.StatusCode, data)
}

func mapStatus(status int, body []byte) error {
	var perr providerError
	_ = json.Unmarshal(body, &perr)
	message := perr.Message
	cause := fmt.Errorf("identity provider status %d", status)
	if perr.Code != "" {
		cause = fmt.Errorf("identity provider status %d: %s", status, perr.Code)
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return appErrors.ErrIdentityUnavailable.Wrap(cause, "identity provider unavailable")
	case status == http.StatusConflict:
		if message == "" {
			message = "email already registered"
		}
		return appErrors.ErrConflict.Wrap(cause, message)
	case status == http.StatusNotFound:
		if message == "" {
			message = "account not found"
		}
		return appErrors.ErrNotFound.Wrap(cause, message)
	case status == http.StatusBadRequest && perr.Code == "VALIDATION_ERROR":
		return appErrors.ErrValidation.Wrap(cause, message)
	default:
		return appErrors.ErrInvalidCredentials.Wrap(cause, appErrors.ErrInvalidCredentials.Message)
	}
}

// IsUnavailable reports whether err is a transient provider outage.
func IsUnavailable(err error) bool {
	var e *appErrors.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == appErrors.ErrIdentityUnavailable.Code
}
