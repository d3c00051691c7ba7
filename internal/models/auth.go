package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignUpRequest registers a new email identity.
type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	DisplayName string `json:"display_name" validate:"required,max=120"`
}

// SignInRequest authenticates with email credentials.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// FederatedSignInRequest authenticates through an external provider.
type FederatedSignInRequest struct {
	ProviderID string `json:"provider_id" validate:"required"`
	Token      string `json:"token" validate:"required"`
}

// PasswordResetRequest starts the provider's reset flow.
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Session is returned to clients after sign-in.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      MergedUser `json:"user"`
}

// SessionClaims is the JWT payload issued for a reconciled user.
type SessionClaims struct {
	UserID   string   `json:"user_id"`
	RemoteID string   `json:"remote_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	jwt.RegisteredClaims
}
