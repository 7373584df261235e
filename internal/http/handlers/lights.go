package handlers

import (
	"errors"
	"net/http"

	"github.com/micro-ha/hue-monitor/internal/hue"
	"github.com/micro-ha/hue-monitor/internal/service"
)

// ListSensors returns sensors grouped by category.
func (a *API) ListSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.Sensors())
}

// ListLights returns every known light.
func (a *API) ListLights(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.monitor.Lights()})
}

// ToggleLight flips one light on the controller.
func (a *API) ToggleLight(w http.ResponseWriter, r *http.Request, id string) {
	light, err := a.monitor.ToggleLight(r.Context(), id)
	switch {
	case errors.Is(err, service.ErrLightNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Light not found")
		return
	case errors.Is(err, service.ErrBridgeNotDefined):
		writeError(w, http.StatusConflict, "bridge_not_configured", "Bridge not configured")
		return
	case err != nil:
		a.logger.Warn("light toggle failed", "light_id", id, "err", err)
		writeError(w, bridgeStatus(err), "toggle_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "on": light.On, "light": light})
}

// Refresh triggers immediate poll cycle asynchronously.
func (a *API) Refresh(w http.ResponseWriter, _ *http.Request) {
	a.monitor.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// bridgeStatus maps controller failures to a gateway status.
func bridgeStatus(err error) int {
	var apiErr *hue.APIError
	var statusErr *hue.StatusError
	switch {
	case errors.As(err, &apiErr), errors.As(err, &statusErr):
		return http.StatusBadGateway
	case hue.IsRetryable(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
