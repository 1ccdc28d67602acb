package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("rbac: not found")
	ErrConflict     = errors.New("rbac: conflict")
	ErrInvalidInput = errors.New("rbac: invalid input")
)

// Built-in role names.
const (
	RoleSuperAdmin  = "super_admin"
	RoleTenantAdmin = "tenant_admin"
	RoleAgent       = "agent"
	RoleAuditor     = "auditor"
)

// Built-in permissions.
const (
	PermAuditVerify  = "audit:verify"
	PermAuditRead    = "audit:read"
	PermRBACManage   = "rbac:manage"
	PermTenantRead   = "tenant:read"
	PermTenantManage = "tenant:manage"
)

// BuiltinRolePermissions is the system role catalogue seeded at install time.
// super_admin holds no explicit permissions; it bypasses every check.
var BuiltinRolePermissions = map[string][]string{
	RoleSuperAdmin:  nil,
	RoleTenantAdmin: {PermAuditVerify, PermAuditRead, PermRBACManage, PermTenantRead},
	RoleAuditor:     {PermAuditVerify, PermAuditRead},
	RoleAgent:       {PermTenantRead},
}

// Key joins a resource and action into a permission name.
func Key(resource, action string) string {
	return strings.ToLower(strings.TrimSpace(resource)) + ":" + strings.ToLower(strings.TrimSpace(action))
}

// Role is either a system role (TenantID nil, shared by all tenants) or a
// role owned by exactly one tenant.
type Role struct {
	ID        uuid.UUID
	TenantID  *uuid.UUID
	Name      string
	DeletedAt *time.Time
}

// IsSystem reports whether the role is global.
func (r Role) IsSystem() bool { return r.TenantID == nil }

// OperatorOnly reports whether only a super admin may assign or revoke the role.
func (r Role) OperatorOnly() bool { return r.IsSystem() && r.Name == RoleSuperAdmin }

// visibleIn reports whether the role may contribute within tenantID.
func (r Role) visibleIn(tenantID uuid.UUID) bool {
	if r.DeletedAt != nil {
		return false
	}
	return r.TenantID == nil || *r.TenantID == tenantID
}

// Permission is a globally defined capability.
type Permission struct {
	ID       uuid.UUID
	Resource string
	Action   string
}

// Name returns resource:action.
func (p Permission) Name() string { return Key(p.Resource, p.Action) }

// Grant is a permission assigned directly to a user within a tenant.
type Grant struct {
	UserID     string
	TenantID   uuid.UUID
	Permission string
	ExpiresAt  *time.Time
	GrantedAt  time.Time
}

// ActiveAt reports whether the grant is unexpired at t.
func (g Grant) ActiveAt(t time.Time) bool {
	return g.ExpiresAt == nil || t.Before(*g.ExpiresAt)
}

// Store reads and writes assignment edges.
type Store interface {
	// UserRoles returns roles assigned to the user within tenantID.
	UserRoles(ctx context.Context, userID string, tenantID uuid.UUID) ([]Role, error)
	RolePermissions(ctx context.Context, roleIDs []uuid.UUID) ([]string, error)
	DirectGrants(ctx context.Context, userID string, tenantID uuid.UUID) ([]Grant, error)
	FindRole(ctx context.Context, roleID uuid.UUID) (Role, error)
	FindSystemRole(ctx context.Context, name string) (Role, error)

	AssignRole(ctx context.Context, userID string, tenantID, roleID uuid.UUID) error
	RevokeRole(ctx context.Context, userID string, tenantID, roleID uuid.UUID) error
	GrantPermission(ctx context.Context, grant Grant) error
	RevokePermission(ctx context.Context, userID string, tenantID uuid.UUID, permission string) error
}
