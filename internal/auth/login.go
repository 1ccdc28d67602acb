package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Account statuses.
const (
	AccountActive   = "active"
	AccountDisabled = "disabled"
)

// Account is a login identity of either population.
type Account struct {
	ID           string
	Population   Population
	TenantID     string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
}

// Subject returns the token claims for the account.
func (a Account) Subject() SubjectClaims {
	return SubjectClaims{UserID: a.ID, TenantID: a.TenantID, Role: a.Role}
}

// CredentialStore looks up and creates accounts.
type CredentialStore interface {
	FindAccountByEmail(ctx context.Context, population Population, email string) (Account, error)
	FindAccountByID(ctx context.Context, population Population, id string) (Account, error)
	CreateAccount(ctx context.Context, account Account) (Account, error)
}

// Authenticator exchanges credentials and refresh tokens for token pairs.
// Unknown accounts, wrong passwords and disabled accounts are
// indistinguishable to the caller.
type Authenticator struct {
	tokens   *TokenService
	accounts CredentialStore
	logger   *slog.Logger
}

// NewAuthenticator wires an authenticator for the token service's population.
func NewAuthenticator(tokens *TokenService, accounts CredentialStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		tokens:   tokens,
		accounts: accounts,
		logger:   logger.With("component", "authenticator", "population", string(tokens.Population())),
	}
}

// Tokens returns the underlying token service.
func (a *Authenticator) Tokens() *TokenService { return a.tokens }

// Login verifies email and password and issues a token pair.
func (a *Authenticator) Login(ctx context.Context, email, password string) (TokenPair, Account, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, Account{}, Unauthenticated("empty credentials", nil)
	}
	acct, err := a.accounts.FindAccountByEmail(ctx, a.tokens.Population(), email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return TokenPair{}, Account{}, err
		}
		burnPasswordCheck(password)
		a.logger.InfoContext(ctx, "login rejected", "reason", "unknown account")
		return TokenPair{}, Account{}, Unauthenticated("unknown account", nil)
	}
	if err := VerifyPassword(acct.PasswordHash, password); err != nil {
		a.logger.InfoContext(ctx, "login rejected", "reason", "bad password", "account_id", acct.ID)
		return TokenPair{}, Account{}, Unauthenticated("bad password", err)
	}
	if acct.Status != AccountActive {
		a.logger.InfoContext(ctx, "login rejected", "reason", "account "+acct.Status, "account_id", acct.ID)
		return TokenPair{}, Account{}, Unauthenticated("account not active", nil)
	}
	pair, err := a.tokens.IssuePair(ctx, acct.Subject())
	if err != nil {
		return TokenPair{}, Account{}, err
	}
	return pair, acct, nil
}

// Refresh rotates a refresh token, re-reading the account so role and status
// changes take effect.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (TokenPair, Account, error) {
	rec, err := a.tokens.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, Account{}, err
	}
	acct, err := a.accounts.FindAccountByID(ctx, a.tokens.Population(), rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Account{}, Unauthenticated("refresh for deleted account", err)
		}
		return TokenPair{}, Account{}, err
	}
	if acct.Status != AccountActive {
		_ = a.tokens.RevokeAll(ctx, acct.ID)
		return TokenPair{}, Account{}, Unauthenticated("account not active", nil)
	}
	pair, err := a.tokens.Rotate(ctx, rec, acct.Subject())
	if err != nil {
		return TokenPair{}, Account{}, err
	}
	return pair, acct, nil
}

// Logout revokes a refresh token.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string) error {
	return a.tokens.Revoke(ctx, refreshToken)
}

// Register creates an active account with a hashed password.
func (a *Authenticator) Register(ctx context.Context, tenantID, email, password, role string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	if len(password) < 8 {
		return Account{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, err
	}
	return a.accounts.CreateAccount(ctx, Account{
		Population:   a.tokens.Population(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       AccountActive,
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
