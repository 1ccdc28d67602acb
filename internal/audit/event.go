package audit

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Source says where an event originated.
type Source interface {
	Kind() string
	fields() map[string]any
}

// HTTPSource is an event caused by an inbound request.
type HTTPSource struct {
	RequestID string
	Method    string
	Path      string
	IPAddress string
	UserAgent string
}

func (HTTPSource) Kind() string { return "http" }

func (s HTTPSource) fields() map[string]any {
	return map[string]any{
		"kind":       s.Kind(),
		"request_id": s.RequestID,
		"method":     s.Method,
		"path":       s.Path,
		"ip_address": s.IPAddress,
		"user_agent": s.UserAgent,
	}
}

// SystemSource is an event raised by background jobs or operator tooling.
type SystemSource struct {
	Reason    string
	Component string
}

func (SystemSource) Kind() string { return "system" }

func (s SystemSource) fields() map[string]any {
	return map[string]any{
		"kind":      s.Kind(),
		"reason":    s.Reason,
		"component": s.Component,
	}
}

// Event is a security relevant fact to be chained into a tenant's ledger.
// Details is opaque to the ledger; it only has to be JSON encodable.
type Event struct {
	TenantID     uuid.UUID
	ActorID      string
	ActorRole    string
	Action       string
	ResourceType string
	ResourceID   string
	Success      bool
	Timestamp    time.Time
	Source       Source
	Details      map[string]any
}

func (e Event) payload() map[string]any {
	src := e.Source
	if src == nil {
		src = SystemSource{Reason: "unspecified"}
	}
	p := map[string]any{
		"tenant_id":     e.TenantID.String(),
		"actor_id":      e.ActorID,
		"actor_role":    e.ActorRole,
		"action":        e.Action,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"success":       e.Success,
		"timestamp":     FormatTimestamp(e.Timestamp),
		"source":        src.fields(),
	}
	if len(e.Details) > 0 {
		p["details"] = maps.Clone(e.Details)
	}
	return p
}
