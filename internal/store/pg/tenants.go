package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tenantcore.io/internal/tenant"
)

var _ tenant.Store = (*Store)(nil)

const tenantColumns = `id, name, status, isolation, created_at, updated_at`

func (s *Store) FindTenant(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `select `+tenantColumns+` from tenants where id = $1`, id)
	return scanTenant(row)
}

func (s *Store) CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	isolation, err := encodeIsolation(t.Isolation)
	if err != nil {
		return tenant.Tenant{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into tenants (id, name, status, isolation)
		values ($1, $2, $3, $4)
		returning `+tenantColumns, t.ID, t.Name, string(t.Status), isolation)
	created, err := scanTenant(row)
	if isPgCode(err, pgErrUniqueViolation) {
		return tenant.Tenant{}, fmt.Errorf("%w: tenant %s exists", tenant.ErrInvalidInput, t.ID)
	}
	return created, err
}

func (s *Store) UpdateTenantStatus(ctx context.Context, id uuid.UUID, status tenant.Status) (tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		update tenants set status = $2, updated_at = now()
		where id = $1
		returning `+tenantColumns, id, string(status))
	return scanTenant(row)
}

func (s *Store) UpdateTenantIsolation(ctx context.Context, id uuid.UUID, isolation map[string]any) (tenant.Tenant, error) {
	raw, err := encodeIsolation(isolation)
	if err != nil {
		return tenant.Tenant{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update tenants set isolation = $2, updated_at = now()
		where id = $1
		returning `+tenantColumns, id, raw)
	return scanTenant(row)
}

func scanTenant(row *sql.Row) (tenant.Tenant, error) {
	var (
		t      tenant.Tenant
		status string
		rawIso []byte
	)
	err := row.Scan(&t.ID, &t.Name, &status, &rawIso, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, err
	}
	t.Status = tenant.Status(status)
	if len(rawIso) > 0 {
		if err := json.Unmarshal(rawIso, &t.Isolation); err != nil {
			return tenant.Tenant{}, fmt.Errorf("decode isolation: %w", err)
		}
	}
	return t, nil
}

func encodeIsolation(isolation map[string]any) ([]byte, error) {
	if len(isolation) == 0 {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(isolation)
	if err != nil {
		return nil, fmt.Errorf("marshal isolation: %w", err)
	}
	return raw, nil
}
