package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
	clockSkew         = 5 * time.Second
)

// Population separates callers whose tokens must never be interchangeable.
type Population string

const (
	PopulationUser     Population = "user"
	PopulationInvestor Population = "investor"
)

// Issuer returns the iss claim for tokens of this population.
func (p Population) Issuer() string {
	if p == PopulationInvestor {
		return "tenantcore-investors"
	}
	return "tenantcore"
}

// Audience returns the aud claim for tokens of this population.
func (p Population) Audience() string {
	if p == PopulationInvestor {
		return "tenantcore-investor-portal"
	}
	return "tenantcore-app"
}

func (p Population) valid() bool {
	return p == PopulationUser || p == PopulationInvestor
}

// SubjectClaims identify who a token is issued to.
type SubjectClaims struct {
	UserID   string
	TenantID string
	Role     string
}

// Claims is the signed access token payload.
type Claims struct {
	UserID   string `json:"uid"`
	TenantID string `json:"tid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Subject returns the identity part of the claims.
func (c *Claims) Subject() SubjectClaims {
	return SubjectClaims{UserID: c.UserID, TenantID: c.TenantID, Role: c.Role}
}

// TokenService issues and verifies tokens for one population.
type TokenService struct {
	population Population
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	refresh    RefreshTokenStore
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the population's default issuer.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAudience overrides the population's default audience.
func WithAudience(audience string) TokenOption {
	return func(s *TokenService) error {
		if audience = strings.TrimSpace(audience); audience != "" {
			s.audience = audience
		}
		return nil
	}
}

// NewTokenService builds a TokenService signing HS256 tokens with secret.
func NewTokenService(population Population, secret string, store RefreshTokenStore, opts ...TokenOption) (*TokenService, error) {
	if !population.valid() {
		return nil, fmt.Errorf("%w: unknown population %q", ErrInvalidInput, population)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: token secret is empty", ErrInvalidInput)
	}
	s := &TokenService{
		population: population,
		secret:     []byte(secret),
		issuer:     population.Issuer(),
		audience:   population.Audience(),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		refresh:    store,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Population reports which caller population this service serves.
func (s *TokenService) Population() Population { return s.population }

// Issue signs an access token for sub.
func (s *TokenService) Issue(sub SubjectClaims) (string, time.Time, error) {
	if strings.TrimSpace(sub.UserID) == "" || strings.TrimSpace(sub.TenantID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: uid and tid are required", ErrInvalidInput)
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		UserID:   sub.UserID,
		TenantID: sub.TenantID,
		Role:     sub.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience and lifetime. Every failure is
// an authentication error; the specific cause is kept in Reason().
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, Unauthenticated("empty token", nil)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, Unauthenticated(verifyReason(err), err)
	}
	if !parsed.Valid {
		return nil, Unauthenticated("token not valid", nil)
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, Unauthenticated("missing uid claim", nil)
	}
	return claims, nil
}

func verifyReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience mismatch"
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not yet valid"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable token"
	default:
		return "invalid claims"
	}
}
