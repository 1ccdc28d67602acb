package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenantcore.io/internal/audit"
	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/gate"
	"tenantcore.io/internal/rbac"
	"tenantcore.io/internal/tenant"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	TenantName string `json:"tenant_name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenResponse(p auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// handleRegister provisions a trial tenant with its first administrator.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.TenantName)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "tenant_name is required")
		return
	}
	if len(req.Password) < 8 || !strings.Contains(req.Email, "@") {
		writeError(w, r, http.StatusBadRequest, "a valid email and a password of at least 8 characters are required")
		return
	}

	t, err := a.tenants.Provision(r.Context(), name, nil)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	acct, err := a.users.Register(r.Context(), t.ID.String(), req.Email, req.Password, rbac.RoleTenantAdmin)
	if err != nil {
		// the tenant stays in TRIAL without an owner; operators can reuse or block it
		a.logger.WarnContext(r.Context(), "owner registration failed", "tenant_id", t.ID, "error", err)
		a.handleDomainError(w, r, err)
		return
	}
	if err := a.perms.AssignSystemRole(r.Context(), acct.ID, t.ID, rbac.RoleTenantAdmin); err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	pair, err := a.users.Tokens().IssuePair(r.Context(), acct.Subject())
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.record(r, audit.Event{
		TenantID:     t.ID,
		ActorID:      acct.ID,
		ActorRole:    acct.Role,
		Action:       "tenant.register",
		ResourceType: "tenant",
		ResourceID:   t.ID.String(),
		Success:      true,
		Details:      map[string]any{"tenant_name": t.Name, "status": string(t.Status)},
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"tenant":  t,
		"user_id": acct.ID,
		"tokens":  newTokenResponse(pair),
	})
}

func (a *API) loginHandler(authn *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		pair, acct, err := authn.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		a.recordAccount(r, acct, "auth.login")
		writeJSON(w, http.StatusOK, newTokenResponse(pair))
	}
}

func (a *API) refreshHandler(authn *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		pair, acct, err := authn.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		a.recordAccount(r, acct, "auth.refresh")
		writeJSON(w, http.StatusOK, newTokenResponse(pair))
	}
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.All {
		err = a.users.Tokens().RevokeAll(r.Context(), sc.UserID())
	} else {
		err = a.users.Logout(r.Context(), req.RefreshToken)
	}
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.record(r, audit.Event{
		TenantID:     sc.TenantID(),
		Action:       "auth.logout",
		ResourceType: "user",
		ResourceID:   sc.UserID(),
		Success:      true,
		Details:      map[string]any{"all_sessions": req.All},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) recordAccount(r *http.Request, acct auth.Account, action string) {
	tenantID, err := uuid.Parse(acct.TenantID)
	if err != nil {
		return
	}
	a.record(r, audit.Event{
		TenantID:     tenantID,
		ActorID:      acct.ID,
		ActorRole:    acct.Role,
		Action:       action,
		ResourceType: string(acct.Population),
		ResourceID:   acct.ID,
		Success:      true,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	perms, err := a.perms.EffectivePermissions(r.Context(), sc.UserID(), sc.TenantID())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	superAdmin, err := a.perms.IsSuperAdmin(r.Context(), sc.UserID(), sc.TenantID())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     sc.UserID(),
		"tenant_id":   sc.TenantID(),
		"role":        sc.Role(),
		"population":  sc.Population(),
		"super_admin": superAdmin,
		"permissions": perms,
	})
}

func (a *API) handleInvestorMe(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	t, err := a.tenants.Lookup(r.Context(), sc.TenantID())
	if err != nil {
		if tenant.IsNotFound(err) {
			a.writeAuthError(w, r, auth.Forbidden("tenant vanished after admission"))
			return
		}
		a.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"investor_id": sc.UserID(),
		"tenant_id":   sc.TenantID(),
		"tenant_name": t.Name,
		"role":        sc.Role(),
		"population":  sc.Population(),
	})
}
