package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenantcore.io/internal/auth"
)

var (
	_ auth.CredentialStore   = (*Store)(nil)
	_ auth.RefreshTokenStore = (*Store)(nil)
)

// accountTable maps a population to its credential table. Users and
// investors never share a table.
func accountTable(p auth.Population) (string, error) {
	switch p {
	case auth.PopulationUser:
		return "users", nil
	case auth.PopulationInvestor:
		return "investors", nil
	default:
		return "", fmt.Errorf("%w: unknown population %q", auth.ErrInvalidInput, p)
	}
}

func (s *Store) FindAccountByEmail(ctx context.Context, population auth.Population, email string) (auth.Account, error) {
	table, err := accountTable(population)
	if err != nil {
		return auth.Account{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		select id, tenant_id, email, password_hash, role, status, created_at
		from `+table+`
		where lower(email) = lower($1)
	`, strings.TrimSpace(email))
	return scanAccount(row, population)
}

func (s *Store) FindAccountByID(ctx context.Context, population auth.Population, id string) (auth.Account, error) {
	table, err := accountTable(population)
	if err != nil {
		return auth.Account{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return auth.Account{}, auth.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		select id, tenant_id, email, password_hash, role, status, created_at
		from `+table+`
		where id = $1
	`, id)
	return scanAccount(row, population)
}

func (s *Store) CreateAccount(ctx context.Context, account auth.Account) (auth.Account, error) {
	table, err := accountTable(account.Population)
	if err != nil {
		return auth.Account{}, err
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Status == "" {
		account.Status = auth.AccountActive
	}
	row := s.db.QueryRowContext(ctx, `
		insert into `+table+` (id, tenant_id, email, password_hash, role, status)
		values ($1, $2, lower($3), $4, $5, $6)
		returning id, tenant_id, email, password_hash, role, status, created_at
	`, account.ID, account.TenantID, strings.TrimSpace(account.Email), account.PasswordHash, account.Role, account.Status)
	created, err := scanAccount(row, account.Population)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.Account{}, auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.Account{}, auth.ErrNotFound
			}
		}
		return auth.Account{}, err
	}
	return created, nil
}

func scanAccount(row *sql.Row, population auth.Population) (auth.Account, error) {
	acct := auth.Account{Population: population}
	err := row.Scan(&acct.ID, &acct.TenantID, &acct.Email, &acct.PasswordHash, &acct.Role, &acct.Status, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrNotFound
	}
	return acct, err
}

func (s *Store) CreateRefreshToken(ctx context.Context, token auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, population, user_id, tenant_id, role, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, token.ID, string(token.Population), token.UserID, token.TenantID, token.Role, token.TokenHash, token.ExpiresAt, token.CreatedAt)
	if isPgCode(err, pgErrUniqueViolation) {
		return auth.ErrConflict
	}
	return err
}

func (s *Store) FindRefreshToken(ctx context.Context, id string) (auth.RefreshToken, error) {
	var (
		tok        auth.RefreshToken
		population string
		revokedAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, population, user_id, tenant_id, role, token_hash, expires_at, created_at, revoked_at
		from refresh_tokens
		where id = $1
	`, id).Scan(&tok.ID, &population, &tok.UserID, &tok.TenantID, &tok.Role, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RefreshToken{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.RefreshToken{}, err
	}
	tok.Population = auth.Population(population)
	tok.RevokedAt = timePtr(revokedAt)
	return tok, nil
}

// RevokeRefreshToken marks the token revoked. The conditional update makes
// concurrent rotations of the same token race to a single winner.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2
		where id = $1 and revoked_at is null
	`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from refresh_tokens where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}
	return auth.ErrTokenReused
}

func (s *Store) RevokeUserRefreshTokens(ctx context.Context, population auth.Population, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $3
		where population = $1 and user_id = $2 and revoked_at is null
	`, string(population), userID, at)
	return err
}
