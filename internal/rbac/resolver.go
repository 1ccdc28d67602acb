// Package rbac resolves effective permissions: the union of permissions of
// roles assigned within a tenant and the user's unexpired direct grants.
package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/obs"
)

type principal struct {
	roles       map[string]struct{}
	permissions map[string]struct{}
	superAdmin  bool
}

type cacheKey struct {
	userID   string
	tenantID uuid.UUID
}

type cacheEntry struct {
	p         principal
	expiresAt time.Time
}

// Resolver answers authorization questions for a (user, tenant) pair.
type Resolver struct {
	store  Store
	now    func() time.Time
	ttl    time.Duration
	logger *slog.Logger
	tracer trace.Tracer

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
	// gen counts invalidations; a load that started before one is not cached.
	gen uint64
}

// Option configures Resolver.
type Option func(*Resolver)

// WithCacheTTL caches effective sets per (user, tenant). Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithClock overrides the time source used for grant expiry and caching.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver builds a Resolver over store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
		tracer: obs.Tracer("rbac"),
		cache:  make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "permission_resolver")
	return r
}

func (r *Resolver) load(ctx context.Context, userID string, tenantID uuid.UUID) (principal, error) {
	key := cacheKey{userID: userID, tenantID: tenantID}
	var gen uint64
	if r.ttl > 0 {
		r.mu.RLock()
		entry, ok := r.cache[key]
		gen = r.gen
		r.mu.RUnlock()
		if ok && r.now().Before(entry.expiresAt) {
			return entry.p, nil
		}
	}

	ctx, span := r.tracer.Start(ctx, "rbac.resolve", trace.WithAttributes(
		attribute.String("tenant.id", tenantID.String()),
	))
	defer span.End()

	roles, err := r.store.UserRoles(ctx, userID, tenantID)
	if err != nil {
		return principal{}, fmt.Errorf("load roles: %w", err)
	}
	p := principal{
		roles:       make(map[string]struct{}, len(roles)),
		permissions: make(map[string]struct{}),
	}
	roleIDs := make([]uuid.UUID, 0, len(roles))
	for _, role := range roles {
		if !role.visibleIn(tenantID) {
			continue
		}
		p.roles[role.Name] = struct{}{}
		roleIDs = append(roleIDs, role.ID)
		if role.IsSystem() && role.Name == RoleSuperAdmin {
			p.superAdmin = true
		}
	}
	if len(roleIDs) > 0 {
		perms, err := r.store.RolePermissions(ctx, roleIDs)
		if err != nil {
			return principal{}, fmt.Errorf("load role permissions: %w", err)
		}
		for _, perm := range perms {
			p.permissions[perm] = struct{}{}
		}
	}
	grants, err := r.store.DirectGrants(ctx, userID, tenantID)
	if err != nil {
		return principal{}, fmt.Errorf("load direct grants: %w", err)
	}
	now := r.now()
	for _, g := range grants {
		if g.TenantID == tenantID && g.ActiveAt(now) {
			p.permissions[g.Permission] = struct{}{}
		}
	}

	if r.ttl > 0 {
		r.mu.Lock()
		if r.gen == gen {
			r.cache[key] = cacheEntry{p: p, expiresAt: now.Add(r.ttl)}
		}
		r.mu.Unlock()
	}
	return p, nil
}

// Invalidate drops the cached effective set of a user in a tenant.
func (r *Resolver) Invalidate(userID string, tenantID uuid.UUID) {
	r.mu.Lock()
	r.gen++
	delete(r.cache, cacheKey{userID: userID, tenantID: tenantID})
	r.mu.Unlock()
}

// IsSuperAdmin reports whether the user holds the system super_admin role in the tenant.
func (r *Resolver) IsSuperAdmin(ctx context.Context, userID string, tenantID uuid.UUID) (bool, error) {
	p, err := r.load(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	return p.superAdmin, nil
}

// RequirePermission fails with an authorization error unless the user holds perm.
func (r *Resolver) RequirePermission(ctx context.Context, userID string, tenantID uuid.UUID, perm string) error {
	return r.check(ctx, userID, tenantID, func(p principal) (bool, string) {
		_, ok := p.permissions[perm]
		return ok, "missing permission " + perm
	})
}

// RequireAny passes if the user holds at least one of perms.
func (r *Resolver) RequireAny(ctx context.Context, userID string, tenantID uuid.UUID, perms ...string) error {
	if len(perms) == 0 {
		return fmt.Errorf("%w: no permissions given", ErrInvalidInput)
	}
	return r.check(ctx, userID, tenantID, func(p principal) (bool, string) {
		for _, perm := range perms {
			if _, ok := p.permissions[perm]; ok {
				return true, ""
			}
		}
		return false, "missing any of " + strings.Join(perms, ",")
	})
}

// RequireAll passes only if the user holds every perm.
func (r *Resolver) RequireAll(ctx context.Context, userID string, tenantID uuid.UUID, perms ...string) error {
	if len(perms) == 0 {
		return fmt.Errorf("%w: no permissions given", ErrInvalidInput)
	}
	return r.check(ctx, userID, tenantID, func(p principal) (bool, string) {
		for _, perm := range perms {
			if _, ok := p.permissions[perm]; !ok {
				return false, "missing permission " + perm
			}
		}
		return true, ""
	})
}

// RequireRole passes if the user has the named role within the tenant.
func (r *Resolver) RequireRole(ctx context.Context, userID string, tenantID uuid.UUID, role string) error {
	return r.check(ctx, userID, tenantID, func(p principal) (bool, string) {
		_, ok := p.roles[role]
		return ok, "missing role " + role
	})
}

// EffectivePermissions returns the sorted effective permission set.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string, tenantID uuid.UUID) ([]string, error) {
	p, err := r.load(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.permissions))
	for perm := range p.permissions {
		out = append(out, perm)
	}
	slices.Sort(out)
	return out, nil
}

func (r *Resolver) check(ctx context.Context, userID string, tenantID uuid.UUID, allowed func(principal) (bool, string)) error {
	p, err := r.load(ctx, userID, tenantID)
	if err != nil {
		obs.PermissionChecks.WithLabelValues("error").Inc()
		return err
	}
	// super admin goes first so operators never hit impossible combinations
	if p.superAdmin {
		obs.PermissionChecks.WithLabelValues("superadmin").Inc()
		return nil
	}
	ok, reason := allowed(p)
	if !ok {
		obs.PermissionChecks.WithLabelValues("denied").Inc()
		r.logger.InfoContext(ctx, "permission denied", "user_id", userID, "tenant_id", tenantID, "reason", reason)
		return auth.Forbidden(reason)
	}
	obs.PermissionChecks.WithLabelValues("granted").Inc()
	return nil
}
