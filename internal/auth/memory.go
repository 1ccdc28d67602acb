package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process RefreshTokenStore and CredentialStore for
// tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	tokens   map[string]RefreshToken
	accounts map[string]Account
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:   make(map[string]RefreshToken),
		accounts: make(map[string]Account),
	}
}

func (m *MemoryStore) CreateRefreshToken(_ context.Context, token RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[token.ID]; ok {
		return ErrConflict
	}
	m.tokens[token.ID] = token
	return nil
}

func (m *MemoryStore) FindRefreshToken(_ context.Context, id string) (RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[id]
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	return tok, nil
}

func (m *MemoryStore) RevokeRefreshToken(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	if tok.Revoked() {
		return ErrTokenReused
	}
	tok.RevokedAt = &at
	m.tokens[id] = tok
	return nil
}

func (m *MemoryStore) RevokeUserRefreshTokens(_ context.Context, population Population, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.tokens {
		if tok.Population == population && tok.UserID == userID && !tok.Revoked() {
			tok.RevokedAt = &at
			m.tokens[id] = tok
		}
	}
	return nil
}

func (m *MemoryStore) FindAccountByEmail(_ context.Context, population Population, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, acct := range m.accounts {
		if acct.Population == population && acct.Email == normalizeEmail(email) {
			return acct, nil
		}
	}
	return Account{}, ErrNotFound
}

func (m *MemoryStore) FindAccountByID(_ context.Context, population Population, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok || acct.Population != population {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, account Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.Email = normalizeEmail(account.Email)
	for _, existing := range m.accounts {
		if existing.Population == account.Population && existing.Email == account.Email {
			return Account{}, ErrConflict
		}
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	m.accounts[account.ID] = account
	return account, nil
}

// SetAccountStatus changes an account's status.
func (m *MemoryStore) SetAccountStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if acct, ok := m.accounts[id]; ok {
		acct.Status = status
		m.accounts[id] = acct
	}
}
