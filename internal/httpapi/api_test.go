package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenantcore.io/internal/audit"
	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/cache"
	"tenantcore.io/internal/health"
	"tenantcore.io/internal/obs"
	"tenantcore.io/internal/rbac"
	"tenantcore.io/internal/tenant"
)

type testEnv struct {
	t         *testing.T
	srv       *httptest.Server
	api       *API
	users     *auth.Authenticator
	investors *auth.Authenticator
	tenants   *tenant.Directory
	roles     *rbac.MemoryStore
	perms     *rbac.Resolver
	ledger    *audit.Ledger
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := obs.Discard()

	userStore := auth.NewMemoryStore()
	userTokens, err := auth.NewTokenService(auth.PopulationUser, "user-secret", userStore)
	if err != nil {
		t.Fatalf("user tokens: %v", err)
	}
	investorStore := auth.NewMemoryStore()
	investorTokens, err := auth.NewTokenService(auth.PopulationInvestor, "investor-secret", investorStore)
	if err != nil {
		t.Fatalf("investor tokens: %v", err)
	}

	roles := rbac.NewMemoryStore()
	env := &testEnv{
		t:         t,
		users:     auth.NewAuthenticator(userTokens, userStore, logger),
		investors: auth.NewAuthenticator(investorTokens, investorStore, logger),
		tenants:   tenant.NewDirectory(tenant.NewMemoryStore(), cache.NewMemory(nil), tenant.WithLogger(logger)),
		roles:     roles,
		perms:     rbac.NewResolver(roles, rbac.WithLogger(logger)),
		ledger:    audit.New(audit.NewMemoryStore(), audit.WithLogger(logger)),
	}
	api := New(Deps{
		Users:       env.users,
		Investors:   env.investors,
		Tenants:     env.tenants,
		Permissions: env.perms,
		Audit:       env.ledger,
		Health: health.New(okPinger{}, cache.Noop{},
			health.WithMemoryStats(func() (uint64, uint64) { return 1, 100 }),
			health.WithVersion("test")),
		Logger: logger,
	}, Options{RateLimitBurst: 100, RateLimitPerSecond: 100, Version: "test"})

	env.api = api
	env.srv = httptest.NewServer(api.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(method, path, token string, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

// register provisions a tenant through the API and returns its id and access token.
func (e *testEnv) register(name, email string) (uuid.UUID, string, string) {
	e.t.Helper()
	resp, body := e.do(http.MethodPost, "/v1/auth/register", "", map[string]any{
		"tenant_name": name,
		"email":       email,
		"password":    "correct horse battery",
	})
	if resp.StatusCode != http.StatusCreated {
		e.t.Fatalf("register: status %d body %v", resp.StatusCode, body)
	}
	tenantObj := body["tenant"].(map[string]any)
	tokens := body["tokens"].(map[string]any)
	return uuid.MustParse(tenantObj["id"].(string)), tokens["access_token"].(string), tokens["refresh_token"].(string)
}

// member creates a user in tenantID with a system role and logs them in.
func (e *testEnv) member(tenantID uuid.UUID, email, role string) (string, string) {
	e.t.Helper()
	acct, err := e.users.Register(context.Background(), tenantID.String(), email, "member password", role)
	if err != nil {
		e.t.Fatalf("register member: %v", err)
	}
	if err := e.perms.AssignSystemRole(context.Background(), acct.ID, tenantID, role); err != nil {
		e.t.Fatalf("assign role: %v", err)
	}
	resp, body := e.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"email": email, "password": "member password"})
	if resp.StatusCode != http.StatusOK {
		e.t.Fatalf("login member: %d %v", resp.StatusCode, body)
	}
	return acct.ID, body["access_token"].(string)
}

func TestRegisterThenMe(t *testing.T) {
	env := newTestEnv(t)
	tenantID, access, _ := env.register("Acme", "owner@acme.test")

	resp, body := env.do(http.MethodGet, "/v1/me", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %v", resp.StatusCode, body)
	}
	if body["tenant_id"] != tenantID.String() || body["role"] != rbac.RoleTenantAdmin {
		t.Fatalf("unexpected me: %v", body)
	}
	perms, _ := body["permissions"].([]any)
	found := false
	for _, p := range perms {
		if p == rbac.PermRBACManage {
			found = true
		}
	}
	if !found {
		t.Fatalf("tenant admin should hold %s: %v", rbac.PermRBACManage, perms)
	}
}

func TestMissingCredentialIs401(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(http.MethodGet, "/v1/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["code"] != auth.CodeAuthentication || body["request_id"] == nil {
		t.Fatalf("unexpected body: %v", body)
	}

	resp, _ = env.do(http.MethodGet, "/v1/me", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestBypassRoutesNeedNoToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/livez", "/metrics"} {
		resp, _ := env.do(http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestEncodedTraversalDoesNotSkipGate(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{
		"/v1/users/..%2Finvestor%2Fx/roles",
		"/v1/users/..%2Finvestor%2Fx/grants",
	} {
		resp, body := env.do(http.MethodPost, path, "", map[string]any{"role_name": rbac.RoleSuperAdmin, "permission": "rbac:manage"})
		if resp.StatusCode != http.StatusUnauthorized || body["code"] != auth.CodeAuthentication {
			t.Fatalf("%s: %d %v", path, resp.StatusCode, body)
		}
	}
}

func TestTenantStatusGating(t *testing.T) {
	env := newTestEnv(t)
	tenantID, access, _ := env.register("Acme", "owner@acme.test")

	if _, err := env.tenants.Suspend(context.Background(), tenantID); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	resp, body := env.do(http.MethodGet, "/v1/me", access, nil)
	if resp.StatusCode != http.StatusPaymentRequired || body["code"] != auth.CodePaymentRequired {
		t.Fatalf("suspended: %d %v", resp.StatusCode, body)
	}

	if _, err := env.tenants.Block(context.Background(), tenantID); err != nil {
		t.Fatalf("block: %v", err)
	}
	resp, body = env.do(http.MethodGet, "/v1/me", access, nil)
	if resp.StatusCode != http.StatusForbidden || body["code"] != auth.CodeAccountSuspended {
		t.Fatalf("blocked: %d %v", resp.StatusCode, body)
	}

	if _, err := env.tenants.Reactivate(context.Background(), tenantID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	resp, _ = env.do(http.MethodGet, "/v1/me", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reactivated: %d", resp.StatusCode)
	}
}

func TestRouteCapabilities(t *testing.T) {
	env := newTestEnv(t)
	tenantID, adminToken, _ := env.register("Acme", "owner@acme.test")
	agentID, agentToken := env.member(tenantID, "agent@acme.test", rbac.RoleAgent)

	resp, body := env.do(http.MethodGet, "/v1/audit/verify", agentToken, nil)
	if resp.StatusCode != http.StatusForbidden || body["code"] != auth.CodeAuthorization {
		t.Fatalf("agent verify: %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(http.MethodPost, "/v1/users/"+agentID+"/grants", adminToken, map[string]any{"permission": rbac.PermAuditVerify})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("grant: %d %v", resp.StatusCode, body)
	}
	resp, body = env.do(http.MethodGet, "/v1/audit/verify", agentToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("agent verify after grant: %d %v", resp.StatusCode, body)
	}
	if body["chain_integrity"] != string(audit.IntegrityValid) {
		t.Fatalf("unexpected report: %v", body)
	}
	if total, _ := body["total_entries"].(float64); total < 2 {
		t.Fatalf("register and grant should both be chained, got %v", body["total_entries"])
	}

	resp, _ = env.do(http.MethodDelete, "/v1/users/"+agentID+"/grants/"+rbac.PermAuditVerify, adminToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke grant: %d", resp.StatusCode)
	}
	resp, _ = env.do(http.MethodGet, "/v1/audit/verify", agentToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("revoked grant should deny, got %d", resp.StatusCode)
	}

	resp, _ = env.do(http.MethodPost, "/v1/users/"+agentID+"/grants", agentToken, map[string]any{"permission": "rbac:manage"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("agent must not manage rbac, got %d", resp.StatusCode)
	}
}

func TestAssignRoleByName(t *testing.T) {
	env := newTestEnv(t)
	tenantID, adminToken, _ := env.register("Acme", "owner@acme.test")
	agentID, agentToken := env.member(tenantID, "agent@acme.test", rbac.RoleAgent)

	resp, body := env.do(http.MethodPost, "/v1/users/"+agentID+"/roles", adminToken, map[string]any{"role_name": rbac.RoleAuditor})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign: %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(http.MethodGet, "/v1/audit/verify", agentToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auditor role should allow verify, got %d", resp.StatusCode)
	}

	resp, _ = env.do(http.MethodPost, "/v1/users/"+agentID+"/roles", adminToken, map[string]any{"role_name": "astronaut"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown role should be 404, got %d", resp.StatusCode)
	}
}

func TestSuperAdminLifecycle(t *testing.T) {
	env := newTestEnv(t)
	opsTenant, _, _ := env.register("Platform", "root@platform.test")
	_, rootToken := env.member(opsTenant, "ops@platform.test", rbac.RoleSuperAdmin)
	customer, customerToken, _ := env.register("Customer", "owner@customer.test")

	resp, _ := env.do(http.MethodPost, "/v1/admin/tenants/"+opsTenant.String()+"/suspend", customerToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("tenant admin must not reach admin routes, got %d", resp.StatusCode)
	}

	resp, body := env.do(http.MethodPost, "/v1/admin/tenants/"+customer.String()+"/suspend", rootToken, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != string(tenant.StatusSuspended) {
		t.Fatalf("suspend: %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(http.MethodGet, "/v1/me", customerToken, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("customer should be gated after suspension, got %d", resp.StatusCode)
	}

	resp, body = env.do(http.MethodGet, "/v1/admin/tenants/"+customer.String()+"/audit/verify", rootToken, nil)
	if resp.StatusCode != http.StatusOK || body["chain_integrity"] != string(audit.IntegrityValid) {
		t.Fatalf("verify: %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(http.MethodPost, "/v1/admin/tenants/"+uuid.NewString()+"/block", rootToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown tenant should be 404, got %d", resp.StatusCode)
	}
}

func TestTenantAdminCannotDelegateSuperAdmin(t *testing.T) {
	env := newTestEnv(t)
	victim, victimToken, _ := env.register("Victim", "owner@victim.test")
	attackerTenant, attackerToken, _ := env.register("Attacker", "owner@attacker.test")
	resp, me := env.do(http.MethodGet, "/v1/me", attackerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %v", resp.StatusCode, me)
	}
	self := me["user_id"].(string)

	resp, body := env.do(http.MethodPost, "/v1/users/"+self+"/roles", attackerToken, map[string]any{"role_name": rbac.RoleSuperAdmin})
	if resp.StatusCode != http.StatusForbidden || body["code"] != auth.CodeAuthorization {
		t.Fatalf("self-assign super_admin by name: %d %v", resp.StatusCode, body)
	}

	superRole, err := env.roles.FindSystemRole(context.Background(), rbac.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("find role: %v", err)
	}
	resp, body = env.do(http.MethodPost, "/v1/users/"+self+"/roles", attackerToken, map[string]any{"role_id": superRole.ID.String()})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("self-assign super_admin by id: %d %v", resp.StatusCode, body)
	}
	if ok, err := env.perms.IsSuperAdmin(context.Background(), self, attackerTenant); err != nil || ok {
		t.Fatalf("attacker became super admin: %v %v", ok, err)
	}

	resp, _ = env.do(http.MethodPost, "/v1/admin/tenants/"+victim.String()+"/block", attackerToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin route after failed escalation: %d", resp.StatusCode)
	}
	resp, _ = env.do(http.MethodGet, "/v1/me", victimToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("victim should be unaffected, got %d", resp.StatusCode)
	}
}

func TestSuperAdminMayDelegateSuperAdmin(t *testing.T) {
	env := newTestEnv(t)
	opsTenant, _, _ := env.register("Platform", "root@platform.test")
	_, rootToken := env.member(opsTenant, "ops@platform.test", rbac.RoleSuperAdmin)
	peerID, peerToken := env.member(opsTenant, "peer@platform.test", rbac.RoleAgent)
	customer, _, _ := env.register("Customer", "owner@customer.test")

	resp, body := env.do(http.MethodPost, "/v1/users/"+peerID+"/roles", rootToken, map[string]any{"role_name": rbac.RoleSuperAdmin})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("delegate: %d %v", resp.StatusCode, body)
	}
	resp, body = env.do(http.MethodPost, "/v1/admin/tenants/"+customer.String()+"/suspend", peerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delegated super admin: %d %v", resp.StatusCode, body)
	}
}

// ungated builds a request that skipped the gate, with chi params set.
func ungated(method string, body string, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, "/", bytes.NewBufferString(body))
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminHandlersRefuseMissingSecurityContext(t *testing.T) {
	env := newTestEnv(t)
	tenantID, _, _ := env.register("Acme", "owner@acme.test")

	cases := map[string]struct {
		h   http.HandlerFunc
		req *http.Request
	}{
		"grant":    {env.api.handleGrantPermission, ungated(http.MethodPost, `{"permission":"audit:verify"}`, map[string]string{"userID": "u1"})},
		"revoke":   {env.api.handleRevokePermission, ungated(http.MethodDelete, "", map[string]string{"userID": "u1", "permission": "audit:verify"})},
		"assign":   {env.api.handleAssignRole, ungated(http.MethodPost, `{"role_name":"auditor"}`, map[string]string{"userID": "u1"})},
		"unassign": {env.api.handleRevokeRole, ungated(http.MethodDelete, "", map[string]string{"userID": "u1", "roleID": uuid.NewString()})},
		"block":    {env.api.lifecycleHandler("tenant.block", env.tenants.Block), ungated(http.MethodPost, "", map[string]string{"tenantID": tenantID.String()})},
	}
	for name, tc := range cases {
		rec := httptest.NewRecorder()
		tc.h(rec, tc.req)
		var body map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if rec.Code != http.StatusInternalServerError || body["code"] != auth.CodeTenantRequired {
			t.Fatalf("%s: %d %v", name, rec.Code, body)
		}
	}

	perms, err := env.perms.EffectivePermissions(context.Background(), "u1", uuid.Nil)
	if err != nil || len(perms) != 0 {
		t.Fatalf("nothing may be written under the nil tenant: %v %v", perms, err)
	}
	tn, err := env.tenants.Lookup(context.Background(), tenantID)
	if err != nil || tn.Status == tenant.StatusBlocked {
		t.Fatalf("tenant must not be blocked: %+v %v", tn, err)
	}
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, _, refresh := env.register("Acme", "owner@acme.test")

	resp, body := env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != http.StatusOK || body["refresh_token"] == refresh {
		t.Fatalf("refresh: %d %v", resp.StatusCode, body)
	}
	resp, body = env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh token should be 401, got %d %v", resp.StatusCode, body)
	}
}

func TestLoginFailuresLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.register("Acme", "owner@acme.test")

	_, wrongPassword := env.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "owner@acme.test", "password": "nope nope nope"})
	_, unknown := env.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "ghost@acme.test", "password": "nope nope nope"})
	if wrongPassword["error"] != unknown["error"] || wrongPassword["code"] != unknown["code"] {
		t.Fatalf("responses differ: %v vs %v", wrongPassword, unknown)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	_, access, refresh := env.register("Acme", "owner@acme.test")

	resp, _ := env.do(http.MethodPost, "/v1/auth/logout", "", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("logout requires an access token, got %d", resp.StatusCode)
	}
	resp, _ = env.do(http.MethodPost, "/v1/auth/logout", access, map[string]any{"refresh_token": refresh})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	resp, _ = env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]any{"refresh_token": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked refresh token should be 401, got %d", resp.StatusCode)
	}
}

func TestInvestorPopulationIsSeparate(t *testing.T) {
	env := newTestEnv(t)
	tenantID, userToken, _ := env.register("Fund", "owner@fund.test")
	if _, err := env.investors.Register(context.Background(), tenantID.String(), "lp@fund.test", "investor password", "limited_partner"); err != nil {
		t.Fatalf("register investor: %v", err)
	}

	resp, body := env.do(http.MethodPost, "/v1/investor/auth/login", "", map[string]any{"email": "lp@fund.test", "password": "investor password"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("investor login: %d %v", resp.StatusCode, body)
	}
	investorToken := body["access_token"].(string)

	resp, body = env.do(http.MethodGet, "/v1/investor/me", investorToken, nil)
	if resp.StatusCode != http.StatusOK || body["tenant_name"] != "Fund" || body["population"] != string(auth.PopulationInvestor) {
		t.Fatalf("investor me: %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(http.MethodGet, "/v1/investor/me", userToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("user token on investor route should be 401, got %d", resp.StatusCode)
	}
	resp, _ = env.do(http.MethodGet, "/v1/me", investorToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("investor token on user route should be 401, got %d", resp.StatusCode)
	}

	resp, _ = env.do(http.MethodPost, "/v1/auth/login", "", map[string]any{"email": "lp@fund.test", "password": "investor password"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("investor credentials must not log into the user population, got %d", resp.StatusCode)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.Unauthenticated("x", nil), http.StatusUnauthorized},
		{auth.Forbidden("x"), http.StatusForbidden},
		{auth.PaymentRequired("x"), http.StatusPaymentRequired},
		{auth.AccountSuspended("blocked", "x"), http.StatusForbidden},
		{auth.TenantRequired("x"), http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.err); got != tc.want {
			t.Fatalf("%v: got %d want %d", tc.err, got, tc.want)
		}
	}
}
