// Package gate admits requests: it proves which tenant and user a request
// belongs to and enforces the tenant lifecycle before business code runs.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/obs"
	"tenantcore.io/internal/tenant"
)

// TokenVerifier verifies access tokens of one population.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
	Population() auth.Population
}

// TenantResolver resolves tenant ids, usually a *tenant.Directory.
type TenantResolver interface {
	Lookup(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
}

// Request is the transport-neutral part of an inbound call.
type Request struct {
	Path          string
	Authorization string
	IPAddress     string
}

// Gate is the admission checkpoint.
type Gate struct {
	tokens  TokenVerifier
	tenants TenantResolver
	bypass  *BypassList
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New builds a gate. A nil bypass list intercepts every path.
func New(tokens TokenVerifier, tenants TenantResolver, bypass *BypassList, logger *slog.Logger) *Gate {
	if bypass == nil {
		bypass = NewBypassList()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		tokens:  tokens,
		tenants: tenants,
		bypass:  bypass,
		logger:  logger.With("component", "tenant_gate", "population", string(tokens.Population())),
		tracer:  obs.Tracer("gate"),
	}
}

// Bypassed reports whether path skips admission entirely.
func (g *Gate) Bypassed(path string) bool { return g.bypass.Match(path) }

func (g *Gate) countBypass() {
	obs.GateAdmissions.WithLabelValues(string(g.tokens.Population()), "bypassed").Inc()
}

// Admit verifies the bearer token, resolves the tenant and applies the
// status rules. It does not consult the bypass list.
func (g *Gate) Admit(ctx context.Context, req Request) (SecurityContext, error) {
	ctx, span := g.tracer.Start(ctx, "gate.Admit", trace.WithAttributes(attribute.String("path", req.Path)))
	defer span.End()

	sc, err := g.admit(ctx, req)
	outcome := outcomeOf(err)
	obs.GateAdmissions.WithLabelValues(string(g.tokens.Population()), outcome).Inc()
	span.SetAttributes(attribute.String("gate.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		g.logger.InfoContext(ctx, "request rejected",
			"path", req.Path,
			"ip", req.IPAddress,
			"outcome", outcome,
			"reason", auth.ReasonOf(err),
		)
		return SecurityContext{}, err
	}
	span.SetAttributes(attribute.String("tenant.id", sc.tenantID.String()))
	return sc, nil
}

// AdmitContext runs Admit and returns ctx carrying the security context.
func (g *Gate) AdmitContext(ctx context.Context, req Request) (context.Context, SecurityContext, error) {
	sc, err := g.Admit(ctx, req)
	if err != nil {
		return ctx, SecurityContext{}, err
	}
	return withSecurityContext(ctx, sc), sc, nil
}

func (g *Gate) admit(ctx context.Context, req Request) (SecurityContext, error) {
	token, err := ExtractBearerToken(req.Authorization)
	if err != nil {
		return SecurityContext{}, auth.Unauthenticated(err.Error(), nil)
	}
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return SecurityContext{}, err
	}

	// malformed and unknown tenants are deliberately the same class
	tid := strings.TrimSpace(claims.TenantID)
	if tid == "" {
		return SecurityContext{}, auth.Forbidden("token has no tid claim")
	}
	tenantID, err := uuid.Parse(tid)
	if err != nil || tenantID == uuid.Nil {
		return SecurityContext{}, auth.Forbidden(fmt.Sprintf("tid claim %q is not a uuid", tid))
	}

	t, err := g.tenants.Lookup(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return SecurityContext{}, auth.Forbidden("unknown tenant " + tenantID.String())
		}
		return SecurityContext{}, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if err := CheckStatus(t.Status); err != nil {
		return SecurityContext{}, err
	}

	return SecurityContext{
		userID:     claims.UserID,
		tenantID:   tenantID,
		role:       claims.Role,
		ipAddress:  req.IPAddress,
		population: g.tokens.Population(),
	}, nil
}

// CheckStatus applies the tenant lifecycle rules: ACTIVE and TRIAL are
// admitted, SUSPENDED requires payment, everything else is suspended.
func CheckStatus(status tenant.Status) error {
	switch status {
	case tenant.StatusActive, tenant.StatusTrial:
		return nil
	case tenant.StatusSuspended:
		return auth.PaymentRequired("tenant status SUSPENDED")
	case tenant.StatusBlocked:
		return auth.AccountSuspended("tenant account has been blocked, contact support", "tenant status BLOCKED")
	default:
		return auth.AccountSuspended("tenant account is not active", "tenant status "+string(status))
	}
}

// ExtractBearerToken parses an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	const bearer = "bearer "
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, auth.ErrAuthentication):
		return "unauthenticated"
	case errors.Is(err, auth.ErrAuthorization):
		return "forbidden"
	case errors.Is(err, auth.ErrPaymentRequired):
		return "payment_required"
	case errors.Is(err, auth.ErrAccountSuspended):
		return "suspended"
	default:
		return "error"
	}
}
