package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("tenant: not found")
	ErrInvalidInput = errors.New("tenant: invalid input")
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusTrial     Status = "TRIAL"
	StatusSuspended Status = "SUSPENDED"
	StatusBlocked   Status = "BLOCKED"
	StatusInactive  Status = "INACTIVE"
	StatusExpired   Status = "EXPIRED"
)

var knownStatuses = []Status{StatusActive, StatusTrial, StatusSuspended, StatusBlocked, StatusInactive, StatusExpired}

// ParseStatus accepts any known status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range knownStatuses {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// Tenant is an isolated customer account.
type Tenant struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Isolation map[string]any `json:"isolation,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is the authoritative tenant storage. Tenants are never deleted.
type Store interface {
	FindTenant(ctx context.Context, id uuid.UUID) (Tenant, error)
	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
	UpdateTenantStatus(ctx context.Context, id uuid.UUID, status Status) (Tenant, error)
	UpdateTenantIsolation(ctx context.Context, id uuid.UUID, isolation map[string]any) (Tenant, error)
}
