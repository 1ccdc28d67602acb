package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tenantcore.io/internal/cache"
	"tenantcore.io/internal/obs"
)

// DefaultCacheTTL bounds how long a status change can go unnoticed on a
// node that did not invalidate its entry.
const DefaultCacheTTL = 5 * time.Minute

// Directory resolves tenants through a cache in front of the Store.
// Cache failures never fail a lookup; the store is consulted instead.
type Directory struct {
	store  Store
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
	// epoch advances on every invalidation; a lookup that raced one does
	// not leave its store read in the cache.
	epoch atomic.Uint64
}

// Option configures Directory.
type Option func(*Directory)

// WithTTL overrides DefaultCacheTTL.
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDirectory builds a Directory. A nil cache disables caching.
func NewDirectory(store Store, c cache.Cache, opts ...Option) *Directory {
	if c == nil {
		c = cache.Noop{}
	}
	d := &Directory{
		store:  store,
		cache:  c,
		ttl:    DefaultCacheTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "tenant_directory", "cache", c.Name())
	return d
}

func cacheKey(id uuid.UUID) string { return "tenant:" + id.String() }

// Lookup returns the tenant, serving from cache when a fresh entry exists.
func (d *Directory) Lookup(ctx context.Context, id uuid.UUID) (Tenant, error) {
	key := cacheKey(id)
	epoch := d.epoch.Load()
	raw, ok, err := d.cache.Get(ctx, key)
	switch {
	case err != nil:
		obs.TenantCacheLookups.WithLabelValues("error").Inc()
		d.cacheFailed(ctx, "tenant cache get failed", id, err)
	case ok:
		var t Tenant
		if err := json.Unmarshal(raw, &t); err == nil && t.ID == id {
			obs.TenantCacheLookups.WithLabelValues("hit").Inc()
			return t, nil
		}
		obs.TenantCacheLookups.WithLabelValues("error").Inc()
		d.logger.WarnContext(ctx, "discarding undecodable tenant cache entry", "tenant_id", id)
		_ = d.cache.Del(ctx, key)
	default:
		obs.TenantCacheLookups.WithLabelValues("miss").Inc()
	}

	t, err := d.store.FindTenant(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	if d.epoch.Load() != epoch {
		return t, nil
	}
	if payload, err := json.Marshal(t); err == nil {
		if err := d.cache.Set(ctx, key, payload, d.ttl); err != nil {
			d.cacheFailed(ctx, "tenant cache set failed", id, err)
		}
		if d.epoch.Load() != epoch {
			_ = d.cache.Del(ctx, key)
		}
	}
	return t, nil
}

func (d *Directory) cacheFailed(ctx context.Context, msg string, id uuid.UUID, err error) {
	if errors.Is(err, cache.ErrUnavailable) {
		d.logger.DebugContext(ctx, msg, "tenant_id", id, "error", err)
		return
	}
	d.logger.WarnContext(ctx, msg, "tenant_id", id, "error", err)
}

// Invalidate drops the cached entry so the next Lookup reads the store.
func (d *Directory) Invalidate(ctx context.Context, id uuid.UUID) error {
	d.epoch.Add(1)
	if err := d.cache.Del(ctx, cacheKey(id)); err != nil {
		return fmt.Errorf("invalidate tenant %s: %w", id, err)
	}
	return nil
}

// Provision creates a tenant in TRIAL.
func (d *Directory) Provision(ctx context.Context, name string, isolation map[string]any) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return d.store.CreateTenant(ctx, Tenant{
		ID:        uuid.New(),
		Name:      name,
		Status:    StatusTrial,
		Isolation: isolation,
	})
}

// SetStatus changes the tenant status and invalidates its cache entry.
func (d *Directory) SetStatus(ctx context.Context, id uuid.UUID, status Status) (Tenant, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Tenant{}, err
	}
	t, err := d.store.UpdateTenantStatus(ctx, id, status)
	if err != nil {
		return Tenant{}, err
	}
	d.invalidateAfterWrite(ctx, id)
	return t, nil
}

// Suspend moves a tenant to SUSPENDED (payment required).
func (d *Directory) Suspend(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return d.SetStatus(ctx, id, StatusSuspended)
}

// Block moves a tenant to BLOCKED.
func (d *Directory) Block(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return d.SetStatus(ctx, id, StatusBlocked)
}

// Reactivate moves a tenant back to ACTIVE.
func (d *Directory) Reactivate(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return d.SetStatus(ctx, id, StatusActive)
}

// UpdateIsolation replaces the isolation config.
func (d *Directory) UpdateIsolation(ctx context.Context, id uuid.UUID, isolation map[string]any) (Tenant, error) {
	t, err := d.store.UpdateTenantIsolation(ctx, id, isolation)
	if err != nil {
		return Tenant{}, err
	}
	d.invalidateAfterWrite(ctx, id)
	return t, nil
}

func (d *Directory) invalidateAfterWrite(ctx context.Context, id uuid.UUID) {
	if err := d.Invalidate(ctx, id); err != nil {
		// the entry ages out within ttl
		d.logger.WarnContext(ctx, "tenant cache invalidation failed", "tenant_id", id, "error", err)
	}
}

// IsNotFound reports whether err means the tenant does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
