package handlers

import (
	"errors"
	"net/http"

	"github.com/micro-ha/hue-monitor/internal/alerting"
)

// ListAlerts returns configured alert rules with their evaluation status.
func (a *API) ListAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sensors": a.monitor.Rules()})
}

// ToggleAlert flips the enabled flag of one rule.
func (a *API) ToggleAlert(w http.ResponseWriter, _ *http.Request, id string) {
	rule, err := a.monitor.ToggleRule(id)
	if errors.Is(err, alerting.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Alert rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "toggle_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": rule.Enabled, "rule": rule})
}

// ToggleSensorAlerts flips every rule targeting a sensor name.
func (a *API) ToggleSensorAlerts(w http.ResponseWriter, _ *http.Request, name string) {
	rules, err := a.monitor.ToggleSensorRules(name)
	if errors.Is(err, alerting.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "No alert rules for sensor")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "toggle_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": rules[0].Enabled, "rules": rules})
}
