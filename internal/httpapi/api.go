// Package httpapi is the HTTP boundary: routing, middleware, the tenant gate
// and handlers for authentication, RBAC administration and audit.
package httpapi

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"tenantcore.io/internal/audit"
	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/gate"
	"tenantcore.io/internal/health"
	"tenantcore.io/internal/obs"
	"tenantcore.io/internal/rbac"
	"tenantcore.io/internal/tenant"
)

const investorPrefix = "/v1/investor"

// Deps are the services the API is built on.
type Deps struct {
	Users       *auth.Authenticator
	Investors   *auth.Authenticator
	Tenants     *tenant.Directory
	Permissions *rbac.Resolver
	Audit       *audit.Ledger
	Health      *health.Checker
	Logger      *slog.Logger
}

// Options tune the HTTP surface.
type Options struct {
	PublicPaths        []string
	RateLimitBurst     int
	RateLimitPerSecond int
	MaxBodyBytes       int64
	Version            string
	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies     []netip.Prefix
}

// API is the HTTP layer over the gate, resolver and ledger.
type API struct {
	users        *auth.Authenticator
	investors    *auth.Authenticator
	tenants      *tenant.Directory
	perms        *rbac.Resolver
	ledger       *audit.Ledger
	health       *health.Checker
	logger       *slog.Logger
	userGate     *gate.Gate
	investorGate *gate.Gate
	limiter      *RateLimiter
	opts         Options
}

func New(deps Deps, opts Options) *API {
	logger := deps.Logger
	if logger == nil {
		logger = obs.Logger()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	// the investor subtree is admitted by its own gate
	userBypass := gate.DefaultBypassList(append([]string{investorPrefix + "/*"}, opts.PublicPaths...)...)
	investorBypass := gate.NewBypassList(investorPrefix+"/auth/login", investorPrefix+"/auth/refresh")

	return &API{
		users:        deps.Users,
		investors:    deps.Investors,
		tenants:      deps.Tenants,
		perms:        deps.Permissions,
		ledger:       deps.Audit,
		health:       deps.Health,
		logger:       logger.With("component", "httpapi"),
		userGate:     gate.New(deps.Users.Tokens(), deps.Tenants, userBypass, logger),
		investorGate: gate.New(deps.Investors.Tokens(), deps.Tenants, investorBypass, logger),
		limiter:      NewRateLimiter(opts.RateLimitBurst, opts.RateLimitPerSecond),
		opts:         opts,
	}
}

// Handler returns the fully wired router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TrustedProxies(a.opts.TrustedProxies))
	r.Use(RequestID)
	r.Use(obs.Instrument)
	r.Use(LoggingJSON(a.logger))
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))
	r.Use(a.userGate.Middleware(a.writeAuthError))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Get("/livez", a.handleLive)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.With(a.limiter.Middleware).Post("/register", a.handleRegister)
		r.With(a.limiter.Middleware).Post("/login", a.loginHandler(a.users))
		r.With(a.limiter.Middleware).Post("/refresh", a.refreshHandler(a.users))
		r.Post("/logout", a.handleLogout)
	})

	r.Get("/v1/me", a.handleMe)

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Use(a.requirePermission(rbac.PermRBACManage))
		r.Post("/roles", a.handleAssignRole)
		r.Delete("/roles/{roleID}", a.handleRevokeRole)
		r.Post("/grants", a.handleGrantPermission)
		r.Delete("/grants/{permission}", a.handleRevokePermission)
	})

	r.With(a.requirePermission(rbac.PermAuditVerify)).Get("/v1/audit/verify", a.handleVerifyOwnChain)

	r.Route("/v1/admin/tenants/{tenantID}", func(r chi.Router) {
		r.Use(a.requireSuperAdmin)
		r.Post("/suspend", a.lifecycleHandler("tenant.suspend", a.tenants.Suspend))
		r.Post("/reactivate", a.lifecycleHandler("tenant.reactivate", a.tenants.Reactivate))
		r.Post("/block", a.lifecycleHandler("tenant.block", a.tenants.Block))
		r.Get("/audit/verify", a.handleVerifyTenantChain)
	})

	r.Route(investorPrefix, func(r chi.Router) {
		r.Use(a.investorGate.Middleware(a.writeAuthError))
		r.With(a.limiter.Middleware).Post("/auth/login", a.loginHandler(a.investors))
		r.With(a.limiter.Middleware).Post("/auth/refresh", a.refreshHandler(a.investors))
		r.Get("/me", a.handleInvestorMe)
	})

	return r
}

// requirePermission declares the capability a route needs.
func (a *API) requirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.perms.RequirePermissionCtx(r.Context(), perm); err != nil {
				a.writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) requireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := a.perms.IsSuperAdminCtx(r.Context())
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		if !ok {
			a.writeAuthError(w, r, auth.Forbidden("super admin required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// record appends an audit event for the current request. It never fails
// the request.
func (a *API) record(r *http.Request, ev audit.Event) {
	if a.ledger == nil {
		return
	}
	if sc, ok := gate.FromContext(r.Context()); ok && ev.ActorID == "" {
		ev.ActorID = sc.UserID()
		ev.ActorRole = sc.Role()
	}
	ev.Source = audit.HTTPSource{
		RequestID: RequestIDFromContext(r.Context()),
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: gate.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	a.ledger.Append(r.Context(), ev)
}
