package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tenantcore.io/internal/audit"
	"tenantcore.io/internal/gate"
	"tenantcore.io/internal/tenant"
)

type assignRoleRequest struct {
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
}

type grantRequest struct {
	Permission string     `json:"permission"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// handleAssignRole assigns a tenant role by id or a system role by name.
func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var target string
	switch {
	case req.RoleID != "":
		roleID, perr := uuid.Parse(req.RoleID)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, "role_id must be a UUID")
			return
		}
		target = roleID.String()
		err = a.perms.AssignRoleCtx(r.Context(), userID, roleID)
	case req.RoleName != "":
		target = req.RoleName
		err = a.perms.AssignSystemRoleCtx(r.Context(), userID, req.RoleName)
	default:
		writeError(w, r, http.StatusBadRequest, "role_id or role_name is required")
		return
	}
	a.record(r, audit.Event{
		TenantID:     sc.TenantID(),
		Action:       "rbac.role.assign",
		ResourceType: "user",
		ResourceID:   userID,
		Success:      err == nil,
		Details:      map[string]any{"role": target},
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user_id": userID, "role": target})
}

func (a *API) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	roleID, err := uuid.Parse(chi.URLParam(r, "roleID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "role id must be a UUID")
		return
	}
	err = a.perms.RevokeRoleCtx(r.Context(), userID, roleID)
	a.record(r, audit.Event{
		TenantID:     sc.TenantID(),
		Action:       "rbac.role.revoke",
		ResourceType: "user",
		ResourceID:   userID,
		Success:      err == nil,
		Details:      map[string]any{"role": roleID.String()},
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err = a.perms.GrantPermission(r.Context(), userID, sc.TenantID(), req.Permission, req.ExpiresAt)
	details := map[string]any{"permission": req.Permission}
	if req.ExpiresAt != nil {
		details["expires_at"] = audit.FormatTimestamp(*req.ExpiresAt)
	}
	a.record(r, audit.Event{
		TenantID:     sc.TenantID(),
		Action:       "rbac.permission.grant",
		ResourceType: "user",
		ResourceID:   userID,
		Success:      err == nil,
		Details:      details,
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user_id": userID, "permission": req.Permission, "expires_at": req.ExpiresAt})
}

func (a *API) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	perm := chi.URLParam(r, "permission")
	err = a.perms.RevokePermission(r.Context(), userID, sc.TenantID(), perm)
	a.record(r, audit.Event{
		TenantID:     sc.TenantID(),
		Action:       "rbac.permission.revoke",
		ResourceType: "user",
		ResourceID:   userID,
		Success:      err == nil,
		Details:      map[string]any{"permission": perm},
	})
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleVerifyOwnChain(w http.ResponseWriter, r *http.Request) {
	sc, err := gate.Require(r.Context())
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.verifyChain(w, r, sc.TenantID())
}

func (a *API) handleVerifyTenantChain(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "tenant id must be a UUID")
		return
	}
	a.verifyChain(w, r, tenantID)
}

func (a *API) verifyChain(w http.ResponseWriter, r *http.Request, tenantID uuid.UUID) {
	report, err := a.ledger.Verify(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "audit verification failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type lifecycleFunc func(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)

// lifecycleHandler applies a status transition. The event is chained into
// the target tenant's ledger, not the operator's.
func (a *API) lifecycleHandler(action string, apply lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := gate.Require(r.Context())
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "tenant id must be a UUID")
			return
		}
		t, err := apply(r.Context(), tenantID)
		if err != nil {
			a.handleDomainError(w, r, err)
			return
		}
		a.record(r, audit.Event{
			TenantID:     tenantID,
			Action:       action,
			ResourceType: "tenant",
			ResourceID:   tenantID.String(),
			Success:      true,
			Details: map[string]any{
				"status":          string(t.Status),
				"operator_tenant": sc.TenantID().String(),
			},
		})
		writeJSON(w, http.StatusOK, t)
	}
}
