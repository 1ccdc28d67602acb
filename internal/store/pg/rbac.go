package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tenantcore.io/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

func (s *Store) UserRoles(ctx context.Context, userID string, tenantID uuid.UUID) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.tenant_id, r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1 and ur.tenant_id = $2 and r.deleted_at is null
		order by r.name
	`, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) RolePermissions(ctx context.Context, roleIDs []uuid.UUID) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		ids[i] = id.String()
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.resource || ':' || p.action
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = any($1::uuid[])
		order by 1
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

func (s *Store) DirectGrants(ctx context.Context, userID string, tenantID uuid.UUID) ([]rbac.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.resource || ':' || p.action, up.expires_at, up.granted_at
		from user_permissions up
		join permissions p on p.id = up.permission_id
		where up.user_id = $1 and up.tenant_id = $2
	`, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []rbac.Grant
	for rows.Next() {
		g := rbac.Grant{UserID: userID, TenantID: tenantID}
		var expires sql.NullTime
		if err := rows.Scan(&g.Permission, &expires, &g.GrantedAt); err != nil {
			return nil, err
		}
		g.ExpiresAt = timePtr(expires)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) FindRole(ctx context.Context, roleID uuid.UUID) (rbac.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name from roles
		where id = $1 and deleted_at is null
	`, roleID)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return role, err
}

func (s *Store) FindSystemRole(ctx context.Context, name string) (rbac.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, tenant_id, name from roles
		where tenant_id is null and name = $1 and deleted_at is null
	`, name)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return role, err
}

func (s *Store) AssignRole(ctx context.Context, userID string, tenantID, roleID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, tenant_id, role_id)
		values ($1, $2, $3)
		on conflict do nothing
	`, userID, tenantID, roleID)
	if isPgCode(err, pgErrForeignKeyViolation) {
		return rbac.ErrNotFound
	}
	return err
}

func (s *Store) RevokeRole(ctx context.Context, userID string, tenantID, roleID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and tenant_id = $2 and role_id = $3
	`, userID, tenantID, roleID)
	return affectedOne(res, err, rbac.ErrNotFound)
}

// GrantPermission upserts the permission catalogue row and the grant in one
// transaction. Re-granting replaces the expiry.
func (s *Store) GrantPermission(ctx context.Context, grant rbac.Grant) error {
	resource, action, ok := strings.Cut(grant.Permission, ":")
	if !ok {
		return fmt.Errorf("%w: permission %q", rbac.ErrInvalidInput, grant.Permission)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into permissions (id, resource, action)
		values ($1, $2, $3)
		on conflict (resource, action) do nothing
	`, uuid.New(), resource, action); err != nil {
		return err
	}
	var permID uuid.UUID
	if err := tx.QueryRowContext(ctx, `
		select id from permissions where resource = $1 and action = $2
	`, resource, action).Scan(&permID); err != nil {
		return err
	}
	grantedAt := grant.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = s.now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		insert into user_permissions (user_id, tenant_id, permission_id, expires_at, granted_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, tenant_id, permission_id)
		do update set expires_at = excluded.expires_at, granted_at = excluded.granted_at
	`, grant.UserID, grant.TenantID, permID, nullTime(grant.ExpiresAt), grantedAt); err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return rbac.ErrNotFound
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) RevokePermission(ctx context.Context, userID string, tenantID uuid.UUID, permission string) error {
	resource, action, ok := strings.Cut(permission, ":")
	if !ok {
		return fmt.Errorf("%w: permission %q", rbac.ErrInvalidInput, permission)
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_permissions up
		using permissions p
		where up.permission_id = p.id
		  and up.user_id = $1 and up.tenant_id = $2
		  and p.resource = $3 and p.action = $4
	`, userID, tenantID, resource, action)
	return affectedOne(res, err, rbac.ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (rbac.Role, error) {
	var (
		role     rbac.Role
		tenantID uuid.NullUUID
	)
	if err := row.Scan(&role.ID, &tenantID, &role.Name); err != nil {
		return rbac.Role{}, err
	}
	if tenantID.Valid {
		id := tenantID.UUID
		role.TenantID = &id
	}
	return role, nil
}

func affectedOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound
	}
	return nil
}
