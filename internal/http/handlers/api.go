package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/micro-ha/hue-monitor/internal/eventstream"
	"github.com/micro-ha/hue-monitor/internal/history"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/service"
	"github.com/micro-ha/hue-monitor/internal/state"
)

// Monitor is the read and write surface the dashboard needs.
type Monitor interface {
	Sensors() service.SensorGroups
	Lights() []model.Light
	ToggleLight(ctx context.Context, id string) (model.Light, error)
	Rules() []service.RuleView
	ToggleRule(id string) (service.RuleView, error)
	ToggleSensorRules(sensorName string) ([]service.RuleView, error)
	Events() []state.Event
	History(ctx context.Context, category, name string, limit int) ([]history.Reading, error)
	HistorySensors(ctx context.Context) ([]history.SensorSummary, error)
	Stats() service.StatsView
	Refresh()
	StreamState() eventstream.State
}

// ConfigProvider exposes whether controller credentials are configured.
type ConfigProvider interface {
	Configured() bool
}

// API groups HTTP handlers and dependencies.
type API struct {
	monitor   Monitor
	config    ConfigProvider
	logger    *slog.Logger
	staticDir string
}

// New creates HTTP handlers with explicit dependencies.
func New(monitor Monitor, config ConfigProvider, logger *slog.Logger, staticDir string) *API {
	return &API{
		monitor:   monitor,
		config:    config,
		logger:    logger,
		staticDir: staticDir,
	}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

// Health reports service liveness, controller config status and stream state.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": a.config.Configured(),
		"stream":     a.monitor.StreamState(),
	})
}

// Static serves frontend assets and SPA fallback.
func (a *API) Static(w http.ResponseWriter, r *http.Request) {
	if a.staticDir == "" {
		writeError(w, http.StatusNotFound, "frontend_missing", "Frontend dist not found")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	cleanPath := strings.TrimPrefix(filepath.Clean("/"+path), "/")
	fullPath := filepath.Join(a.staticDir, cleanPath)
	if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, fullPath)
		return
	}
	index := filepath.Join(a.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		writeError(w, http.StatusNotFound, "frontend_missing", "Frontend dist not found")
		return
	}
	http.ServeFile(w, r, index)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
