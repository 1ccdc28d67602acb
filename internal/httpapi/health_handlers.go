package httpapi

import (
	"net/http"

	"tenantcore.io/internal/health"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"overall": health.StatusHealthy, "version": a.opts.Version})
		return
	}
	report := a.health.Report(r.Context())
	code := http.StatusOK
	if report.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.health != nil && !a.health.Ready(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	if a.health != nil && !a.health.Alive() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_alive"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}
