package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssignRole gives the user a role within the tenant. The role must be a
// system role or owned by the tenant.
func (r *Resolver) AssignRole(ctx context.Context, userID string, tenantID, roleID uuid.UUID) error {
	role, err := r.store.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if !role.visibleIn(tenantID) {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if err := r.store.AssignRole(ctx, userID, tenantID, roleID); err != nil {
		return err
	}
	r.Invalidate(userID, tenantID)
	return nil
}

// AssignSystemRole assigns a built-in role by name.
func (r *Resolver) AssignSystemRole(ctx context.Context, userID string, tenantID uuid.UUID, name string) error {
	role, err := r.store.FindSystemRole(ctx, name)
	if err != nil {
		return err
	}
	return r.AssignRole(ctx, userID, tenantID, role.ID)
}

// RevokeRole removes a role assignment.
func (r *Resolver) RevokeRole(ctx context.Context, userID string, tenantID, roleID uuid.UUID) error {
	if err := r.store.RevokeRole(ctx, userID, tenantID, roleID); err != nil {
		return err
	}
	r.Invalidate(userID, tenantID)
	return nil
}

// GrantPermission grants perm directly, optionally until expiresAt.
func (r *Resolver) GrantPermission(ctx context.Context, userID string, tenantID uuid.UUID, perm string, expiresAt *time.Time) error {
	perm = strings.TrimSpace(perm)
	if userID == "" || !strings.Contains(perm, ":") {
		return fmt.Errorf("%w: permission must be resource:action", ErrInvalidInput)
	}
	now := r.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return fmt.Errorf("%w: expires_at is in the past", ErrInvalidInput)
	}
	if err := r.store.GrantPermission(ctx, Grant{
		UserID:     userID,
		TenantID:   tenantID,
		Permission: perm,
		ExpiresAt:  expiresAt,
		GrantedAt:  now,
	}); err != nil {
		return err
	}
	r.Invalidate(userID, tenantID)
	return nil
}

// RevokePermission removes a direct grant.
func (r *Resolver) RevokePermission(ctx context.Context, userID string, tenantID uuid.UUID, perm string) error {
	if err := r.store.RevokePermission(ctx, userID, tenantID, perm); err != nil {
		return err
	}
	r.Invalidate(userID, tenantID)
	return nil
}
