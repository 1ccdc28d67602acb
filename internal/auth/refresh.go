package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenantcore.io/internal/ids"
)

// RefreshToken is the server-side record of an opaque refresh token.
// Only the SHA-256 of the secret part is stored.
type RefreshToken struct {
	ID         string
	Population Population
	UserID     string
	TenantID   string
	Role       string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the token has been revoked.
func (t RefreshToken) Revoked() bool { return t.RevokedAt != nil }

// Subject returns the claims the token was issued for.
func (t RefreshToken) Subject() SubjectClaims {
	return SubjectClaims{UserID: t.UserID, TenantID: t.TenantID, Role: t.Role}
}

// RefreshTokenStore persists refresh tokens.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	// FindRefreshToken returns ErrNotFound for unknown ids.
	FindRefreshToken(ctx context.Context, id string) (RefreshToken, error)
	// RevokeRefreshToken returns ErrTokenReused if the token was already revoked.
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, population Population, userID string, at time.Time) error
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssueRefresh creates and persists a refresh token for sub.
func (s *TokenService) IssueRefresh(ctx context.Context, sub SubjectClaims) (string, RefreshToken, error) {
	if s.refresh == nil {
		return "", RefreshToken{}, errors.New("auth: refresh token store not configured")
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", RefreshToken{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	now := s.now().UTC()
	rec := RefreshToken{
		ID:         ids.NewAt(now),
		Population: s.population,
		UserID:     sub.UserID,
		TenantID:   sub.TenantID,
		Role:       sub.Role,
		TokenHash:  hashSecret(secret),
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := s.refresh.CreateRefreshToken(ctx, rec); err != nil {
		return "", RefreshToken{}, fmt.Errorf("store refresh token: %w", err)
	}
	return rec.ID + "." + secret, rec, nil
}

// VerifyRefresh resolves a refresh token to its record. Revoked and expired
// tokens fail regardless of the secret. A wrong secret for a known id revokes
// the token.
func (s *TokenService) VerifyRefresh(ctx context.Context, token string) (RefreshToken, error) {
	if s.refresh == nil {
		return RefreshToken{}, errors.New("auth: refresh token store not configured")
	}
	id, secret, err := splitRefreshToken(token)
	if err != nil {
		return RefreshToken{}, Unauthenticated("malformed refresh token", err)
	}
	rec, err := s.refresh.FindRefreshToken(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RefreshToken{}, Unauthenticated("unknown refresh token", err)
		}
		return RefreshToken{}, err
	}
	if rec.Population != s.population {
		return RefreshToken{}, Unauthenticated("refresh token population mismatch", nil)
	}
	if rec.Revoked() {
		return RefreshToken{}, Unauthenticated("refresh token revoked", nil)
	}
	if !s.now().Before(rec.ExpiresAt) {
		return RefreshToken{}, Unauthenticated("refresh token expired", nil)
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		_ = s.refresh.RevokeRefreshToken(ctx, rec.ID, s.now().UTC())
		return RefreshToken{}, Unauthenticated("refresh token secret mismatch", nil)
	}
	return rec, nil
}

// IssuePair mints an access token and a refresh token for sub.
func (s *TokenService) IssuePair(ctx context.Context, sub SubjectClaims) (TokenPair, error) {
	access, accessExp, err := s.Issue(sub)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.IssueRefresh(ctx, sub)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Rotate revokes a verified refresh record and issues a new pair for sub.
// Only one concurrent rotation of the same record succeeds.
func (s *TokenService) Rotate(ctx context.Context, rec RefreshToken, sub SubjectClaims) (TokenPair, error) {
	if err := s.refresh.RevokeRefreshToken(ctx, rec.ID, s.now().UTC()); err != nil {
		if errors.Is(err, ErrTokenReused) {
			return TokenPair{}, Unauthenticated("refresh token reused", err)
		}
		return TokenPair{}, err
	}
	return s.IssuePair(ctx, sub)
}

// Revoke invalidates a refresh token. Revoking an already revoked token is
// not an error; expiry is ignored.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	id, secret, err := splitRefreshToken(token)
	if err != nil {
		return Unauthenticated("malformed refresh token", err)
	}
	rec, err := s.refresh.FindRefreshToken(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Unauthenticated("unknown refresh token", err)
		}
		return err
	}
	if rec.Population != s.population || !secureCompareHash(rec.TokenHash, secret) {
		return Unauthenticated("refresh token secret mismatch", nil)
	}
	if rec.Revoked() {
		return nil
	}
	if err := s.refresh.RevokeRefreshToken(ctx, rec.ID, s.now().UTC()); err != nil && !errors.Is(err, ErrTokenReused) {
		return err
	}
	return nil
}

// RevokeAll invalidates every refresh token of a user in this population.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	return s.refresh.RevokeUserRefreshTokens(ctx, s.population, userID, s.now().UTC())
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	if !ids.Valid(parts[0]) {
		return "", "", errors.New("invalid refresh token id")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
