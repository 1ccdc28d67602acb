package rbac

import (
	"context"

	"github.com/google/uuid"

	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/gate"
)

// RequirePermissionCtx checks perm for the caller attached by the gate.
func (r *Resolver) RequirePermissionCtx(ctx context.Context, perm string) error {
	sc, err := gate.Require(ctx)
	if err != nil {
		return err
	}
	return r.RequirePermission(ctx, sc.UserID(), sc.TenantID(), perm)
}

// RequireAnyCtx is RequireAny for the gated caller.
func (r *Resolver) RequireAnyCtx(ctx context.Context, perms ...string) error {
	sc, err := gate.Require(ctx)
	if err != nil {
		return err
	}
	return r.RequireAny(ctx, sc.UserID(), sc.TenantID(), perms...)
}

// RequireAllCtx is RequireAll for the gated caller.
func (r *Resolver) RequireAllCtx(ctx context.Context, perms ...string) error {
	sc, err := gate.Require(ctx)
	if err != nil {
		return err
	}
	return r.RequireAll(ctx, sc.UserID(), sc.TenantID(), perms...)
}

// RequireRoleCtx is RequireRole for the gated caller.
func (r *Resolver) RequireRoleCtx(ctx context.Context, role string) error {
	sc, err := gate.Require(ctx)
	if err != nil {
		return err
	}
	return r.RequireRole(ctx, sc.UserID(), sc.TenantID(), role)
}

// IsSuperAdminCtx is IsSuperAdmin for the gated caller.
func (r *Resolver) IsSuperAdminCtx(ctx context.Context) (bool, error) {
	sc, err := gate.Require(ctx)
	if err != nil {
		return false, err
	}
	return r.IsSuperAdmin(ctx, sc.UserID(), sc.TenantID())
}

// AssignRoleCtx assigns a role within the caller's tenant. Operator-only
// roles need a caller who is already super admin.
func (r *Resolver) AssignRoleCtx(ctx context.Context, userID string, roleID uuid.UUID) error {
	sc, err := gate.Require(ctx)
	if err != nil {
		return err
	}
	role, err := r.store.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := r.checkDelegable(ctx, sc, role); err != nil {
		return err
	}
	return r.AssignRole(ctx, userID, sc.TenantID(), role.ID)
}

// AssignSystemRoleCtx is AssignRoleCtx for a built-in role name.
func (r *Resolver) AssignSystemRoleCtx(ctx context.Context, userID, name string) error {
	role, err := r.store.FindSystemRole(ctx, name)
	if err != nil {
		return err
	}
	return r.AssignRoleCtx(ctx, userID, role.ID)
}

// RevokeRoleCtx removes a role assignment in the caller's tenant under the
// same rule as AssignRoleCtx.
func (r *Resolver) RevokeRoleCtx(ctx context.Context, userID string, roleID uuid.UUID) error {
	sc, err := gate.Require(ctx)
	if err != nil {
		return err
	}
	role, err := r.store.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := r.checkDelegable(ctx, sc, role); err != nil {
		return err
	}
	return r.RevokeRole(ctx, userID, sc.TenantID(), role.ID)
}

func (r *Resolver) checkDelegable(ctx context.Context, sc gate.SecurityContext, role Role) error {
	if !role.OperatorOnly() {
		return nil
	}
	ok, err := r.IsSuperAdmin(ctx, sc.UserID(), sc.TenantID())
	if err != nil {
		return err
	}
	if !ok {
		r.logger.WarnContext(ctx, "operator role delegation refused",
			"role", role.Name,
			"caller_id", sc.UserID(),
			"tenant_id", sc.TenantID(),
		)
		return auth.Forbidden("only a super admin may delegate " + role.Name)
	}
	return nil
}
