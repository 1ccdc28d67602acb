package tenant

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps tenants in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]Tenant
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[uuid.UUID]Tenant), now: time.Now}
}

func (m *MemoryStore) FindTenant(_ context.Context, id uuid.UUID) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	t.Isolation = maps.Clone(t.Isolation)
	return t, nil
}

func (m *MemoryStore) CreateTenant(_ context.Context, t Tenant) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := m.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Isolation = maps.Clone(t.Isolation)
	m.tenants[t.ID] = t
	return t, nil
}

func (m *MemoryStore) UpdateTenantStatus(_ context.Context, id uuid.UUID, status Status) (Tenant, error) {
	return m.update(id, func(t *Tenant) { t.Status = status })
}

func (m *MemoryStore) UpdateTenantIsolation(_ context.Context, id uuid.UUID, isolation map[string]any) (Tenant, error) {
	return m.update(id, func(t *Tenant) { t.Isolation = maps.Clone(isolation) })
}

func (m *MemoryStore) update(id uuid.UUID, fn func(*Tenant)) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	fn(&t)
	t.UpdatedAt = m.now().UTC()
	m.tenants[id] = t
	return t, nil
}
