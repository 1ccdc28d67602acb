package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tenantcore.io/internal/auth"
	"tenantcore.io/internal/rbac"
	"tenantcore.io/internal/tenant"
)

// StatusOf maps the security taxonomy to an HTTP status. Anything outside
// the taxonomy is a 500.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, auth.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, auth.ErrAccountSuspended), errors.Is(err, auth.ErrAuthorization):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeAuthError renders a classified rejection. The internal reason never
// leaves the process.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	var ae *auth.Error
	if !errors.As(err, &ae) {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "security context missing", "path", r.URL.Path, "reason", ae.Reason())
	}
	writeErrorCode(w, r, status, ae.Message, ae.Code)
}

// handleDomainError maps validation and lookup failures; anything else goes
// through writeAuthError.
func (a *API) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, rbac.ErrInvalidInput), errors.Is(err, tenant.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict), errors.Is(err, rbac.ErrConflict):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, rbac.ErrNotFound), errors.Is(err, tenant.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		a.writeAuthError(w, r, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, msg, "")
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, code int, msg, errCode string) {
	payload := map[string]any{
		"error": msg,
	}
	if errCode != "" {
		payload["code"] = errCode
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
