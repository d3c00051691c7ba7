package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const downloadAudience = "backup-download"

// ErrTokenSecret is returned when no signing secret is configured.
var ErrTokenSecret = errors.New("download token secret missing")

// DownloadSigner issues short-lived HS256 tokens that grant access to one
// stored file. The token carries the file name, so holding it is enough to
// download.
type DownloadSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewDownloadSigner constructs a signer. ttl defaults to 30 minutes.
func NewDownloadSigner(secret string, ttl time.Duration) *DownloadSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &DownloadSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate binds id to the stored file name and returns the token with its
// expiry.
func (s *DownloadSigner) Generate(id, name string) (string, time.Time, error) {
	if id == "" || name == "" {
		return "", time.Time{}, errors.New("download token needs an id and a file name")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrTokenSecret
	}
	issued := s.now()
	expires := jwt.NewNumericDate(issued.Add(s.ttl))
	claims := jwt.RegisteredClaims{
		ID:        id,
		Subject:   name,
		Audience:  jwt.ClaimStrings{downloadAudience},
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: expires,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download token: %w", err)
	}
	return token, expires.Time, nil
}

// Parse verifies token and returns the id and file name it grants. With
// allowExpired the expiry is reported but not enforced.
func (s *DownloadSigner) Parse(token string, allowExpired bool) (string, string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", "", time.Time{}, ErrTokenSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	} else {
		opts = append(opts, jwt.WithAudience(downloadAudience), jwt.WithExpirationRequired())
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("parse download token: %w", err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return "", "", time.Time{}, errors.New("download token is missing its file reference")
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return claims.ID, claims.Subject, expires, nil
}
