package gate

import (
	"context"

	"github.com/google/uuid"

	"tenantcore.io/internal/auth"
)

// SecurityContext is the verified identity of one request. It can only be
// built by Gate and is read-only afterwards.
type SecurityContext struct {
	userID     string
	tenantID   uuid.UUID
	role       string
	ipAddress  string
	population auth.Population
}

func (s SecurityContext) UserID() string              { return s.userID }
func (s SecurityContext) TenantID() uuid.UUID         { return s.tenantID }
func (s SecurityContext) Role() string                { return s.role }
func (s SecurityContext) IPAddress() string           { return s.ipAddress }
func (s SecurityContext) Population() auth.Population { return s.population }
func (s SecurityContext) IsZero() bool                { return s.tenantID == uuid.Nil }

type securityContextKey struct{}

func withSecurityContext(ctx context.Context, sc SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// FromContext returns the security context attached by the gate.
func FromContext(ctx context.Context) (SecurityContext, bool) {
	if ctx == nil {
		return SecurityContext{}, false
	}
	sc, ok := ctx.Value(securityContextKey{}).(SecurityContext)
	if !ok || sc.IsZero() {
		return SecurityContext{}, false
	}
	return sc, true
}

// Require returns the attached security context or a TenantRequired error.
// A missing context means a handler was reached without passing the gate.
func Require(ctx context.Context) (SecurityContext, error) {
	sc, ok := FromContext(ctx)
	if !ok {
		return SecurityContext{}, auth.TenantRequired("no security context on request")
	}
	return sc, nil
}
