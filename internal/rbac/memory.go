package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type assignment struct {
	userID   string
	tenantID uuid.UUID
	roleID   uuid.UUID
}

type grantKey struct {
	userID     string
	tenantID   uuid.UUID
	permission string
}

// MemoryStore is an in-process Store seeded with the built-in system roles.
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[uuid.UUID]Role
	rolePerms   map[uuid.UUID]map[string]struct{}
	assignments map[assignment]struct{}
	grants      map[grantKey]Grant
}

// NewMemoryStore returns a store containing BuiltinRolePermissions.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		roles:       make(map[uuid.UUID]Role),
		rolePerms:   make(map[uuid.UUID]map[string]struct{}),
		assignments: make(map[assignment]struct{}),
		grants:      make(map[grantKey]Grant),
	}
	for name, perms := range BuiltinRolePermissions {
		m.CreateRole(nil, name, perms...)
	}
	return m
}

// CreateRole adds a role. A nil tenantID creates a system role.
func (m *MemoryStore) CreateRole(tenantID *uuid.UUID, name string, perms ...string) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := Role{ID: uuid.New(), TenantID: tenantID, Name: name}
	m.roles[role.ID] = role
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	m.rolePerms[role.ID] = set
	return role
}

// DeleteRole soft-deletes a role.
func (m *MemoryStore) DeleteRole(roleID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role, ok := m.roles[roleID]; ok {
		now := time.Now().UTC()
		role.DeletedAt = &now
		m.roles[roleID] = role
	}
}

func (m *MemoryStore) UserRoles(_ context.Context, userID string, tenantID uuid.UUID) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Role
	for a := range m.assignments {
		if a.userID != userID || a.tenantID != tenantID {
			continue
		}
		if role, ok := m.roles[a.roleID]; ok && role.DeletedAt == nil {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) RolePermissions(_ context.Context, roleIDs []uuid.UUID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, id := range roleIDs {
		for p := range m.rolePerms[id] {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) DirectGrants(_ context.Context, userID string, tenantID uuid.UUID) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Grant
	for k, g := range m.grants {
		if k.userID == userID && k.tenantID == tenantID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindRole(_ context.Context, roleID uuid.UUID) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[roleID]
	if !ok || role.DeletedAt != nil {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *MemoryStore) FindSystemRole(_ context.Context, name string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.roles {
		if role.IsSystem() && role.Name == name && role.DeletedAt == nil {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *MemoryStore) AssignRole(_ context.Context, userID string, tenantID, roleID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	m.assignments[assignment{userID: userID, tenantID: tenantID, roleID: roleID}] = struct{}{}
	return nil
}

func (m *MemoryStore) RevokeRole(_ context.Context, userID string, tenantID, roleID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignment{userID: userID, tenantID: tenantID, roleID: roleID}
	if _, ok := m.assignments[key]; !ok {
		return ErrNotFound
	}
	delete(m.assignments, key)
	return nil
}

func (m *MemoryStore) GrantPermission(_ context.Context, grant Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[grantKey{userID: grant.UserID, tenantID: grant.TenantID, permission: grant.Permission}] = grant
	return nil
}

func (m *MemoryStore) RevokePermission(_ context.Context, userID string, tenantID uuid.UUID, permission string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey{userID: userID, tenantID: tenantID, permission: permission}
	if _, ok := m.grants[key]; !ok {
		return ErrNotFound
	}
	delete(m.grants, key)
	return nil
}
