// Package config resolves runtime settings from defaults, the settings file,
// environment variables and command-line overrides, in that order.
package config

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

const (
	defaultConfigDir            = "config"
	defaultFrontendDist         = "frontend/dist"
	defaultWebHost              = "0.0.0.0"
	defaultWebPort              = 8080
	defaultPollInterval         = 30 * time.Second
	defaultAlertsReloadInterval = 5 * time.Second
	settingsFileName            = "settings.json"
	historyFileName             = "history.db"
)

// Config stores resolved runtime settings.
type Config struct {
	ConfigDir            string
	HTTPAddr             string
	DBPath               string
	FrontendDist         string
	LogLevel             slog.Level
	PollInterval         time.Duration
	AlertsReloadInterval time.Duration
	HistoryCategories    []model.Category
	Bridge               model.BridgeConfig
	Pushover             model.PushoverConfig
	// SettingsFound reports whether settings.json existed.
	SettingsFound bool
}

// Overrides carries command-line values. Zero values leave the lower
// precedence setting in place.
type Overrides struct {
	ConfigDir    string
	HTTPAddr     string
	PollInterval time.Duration
	History      string
	LogLevel     string
}

// Load builds Config from defaults, <config dir>/settings.json, the
// environment and then overrides.
func Load(overrides Overrides) (Config, error) {
	configDir := firstNonEmpty(overrides.ConfigDir, getenv("CONFIG_DIR", defaultConfigDir))

	settings, found, err := ReadSettings(filepath.Join(configDir, settingsFileName))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ConfigDir:            configDir,
		HTTPAddr:             settings.Web.Addr(),
		DBPath:               filepath.Join(configDir, historyFileName),
		FrontendDist:         defaultFrontendDist,
		LogLevel:             slog.LevelInfo,
		PollInterval:         defaultPollInterval,
		AlertsReloadInterval: defaultAlertsReloadInterval,
		HistoryCategories:    []model.Category{model.CategoryMotion, model.CategoryTemperature},
		Bridge: model.BridgeConfig{
			Host:   settings.BridgeIP,
			APIKey: settings.APIKey,
		},
		Pushover:      settings.Pushover,
		SettingsFound: found,
	}
	if settings.PollingInterval > 0 {
		cfg.PollInterval = time.Duration(settings.PollingInterval) * time.Second
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)
	cfg.FrontendDist = getenv("FRONTEND_DIST", cfg.FrontendDist)
	cfg.LogLevel = parseLogLevel(getenv("LOG_LEVEL", "info"))
	cfg.PollInterval = parseDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.AlertsReloadInterval = parseDuration("ALERTS_RELOAD_INTERVAL", cfg.AlertsReloadInterval)
	cfg.Bridge.Host = getenv("HUE_BRIDGE_IP", cfg.Bridge.Host)
	cfg.Bridge.APIKey = getenv("HUE_API_KEY", cfg.Bridge.APIKey)
	cfg.Pushover.UserKey = getenv("PUSHOVER_USER_KEY", cfg.Pushover.UserKey)
	cfg.Pushover.APIToken = getenv("PUSHOVER_API_TOKEN", cfg.Pushover.APIToken)
	if raw := getenv("HISTORY_CATEGORIES", ""); raw != "" {
		cfg.HistoryCategories = ParseCategories(raw)
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.PollInterval > 0 {
		cfg.PollInterval = overrides.PollInterval
	}
	if overrides.History != "" {
		cfg.HistoryCategories = ParseCategories(overrides.History)
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(overrides.LogLevel)
	}

	cfg.Bridge.PollIntervalSec = int(cfg.PollInterval / time.Second)
	cfg.PollInterval = cfg.Bridge.PollInterval()
	return cfg, nil
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

// ParseCategories reads a comma separated category list. Unknown names are
// ignored; "all" selects every category.
func ParseCategories(raw string) []model.Category {
	out := []model.Category{}
	seen := map[model.Category]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "all" {
			return append([]model.Category(nil), model.Categories...)
		}
		for _, category := range model.Categories {
			if string(category) != name {
				continue
			}
			if _, dup := seen[category]; !dup {
				seen[category] = struct{}{}
				out = append(out, category)
			}
		}
	}
	return out
}

// WebConfig is the settings file web section.
type WebConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr joins host and port with defaults for missing parts.
func (w WebConfig) Addr() string {
	host := strings.TrimSpace(w.Host)
	if host == "" {
		host = defaultWebHost
	}
	port := w.Port
	if port <= 0 {
		port = defaultWebPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

// parseDuration accepts a Go duration or a bare number of seconds.
func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
