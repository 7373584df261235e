package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/micro-ha/hue-monitor/internal/service"
)

const defaultHistoryLimit = 100

// ListEvents returns recent presence transitions, newest first.
func (a *API) ListEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.monitor.Events()})
}

// Stats returns run counters and connection state.
func (a *API) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.Stats())
}

// ListHistorySensors returns sensors with recorded readings.
func (a *API) ListHistorySensors(w http.ResponseWriter, r *http.Request) {
	items, err := a.monitor.HistorySensors(r.Context())
	if errors.Is(err, service.ErrHistoryDisabled) {
		writeError(w, http.StatusServiceUnavailable, "history_disabled", "Sensor history is disabled")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetHistory returns the newest readings of one sensor, oldest first.
func (a *API) GetHistory(w http.ResponseWriter, r *http.Request, category, name string) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = value
	}

	items, err := a.monitor.History(r.Context(), category, name, limit)
	switch {
	case errors.Is(err, service.ErrUnknownCategory):
		writeError(w, http.StatusBadRequest, "unknown_category", "Unknown sensor category")
		return
	case errors.Is(err, service.ErrHistoryDisabled):
		writeError(w, http.StatusServiceUnavailable, "history_disabled", "Sensor history is disabled")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "name": name, "items": items})
}
