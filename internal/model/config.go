package model

import (
	"net/url"
	"strings"
	"time"
)

const minPollInterval = 5 * time.Second

// BridgeConfig holds controller connection settings.
type BridgeConfig struct {
	Host            string `json:"bridge_ip"`
	APIKey          string `json:"api_key"`
	PollIntervalSec int    `json:"polling_interval"`
}

// Configured reports whether both address and application key are known.
func (c BridgeConfig) Configured() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.APIKey) != ""
}

func (c BridgeConfig) PollInterval() time.Duration {
	interval := time.Duration(c.PollIntervalSec) * time.Second
	if interval < minPollInterval {
		return minPollInterval
	}
	return interval
}

// BaseURL returns the v1 REST root, http://<host>/api/<key>.
func (c BridgeConfig) BaseURL() string {
	return c.origin("http") + "/api/" + strings.TrimSpace(c.APIKey)
}

// ClipURL returns the v2 origin used for resources and the event stream.
func (c BridgeConfig) ClipURL() string {
	return c.origin("https")
}

func (c BridgeConfig) origin(defaultScheme string) string {
	raw := strings.TrimSpace(c.Host)
	if !strings.Contains(raw, "://") {
		raw = defaultScheme + "://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		host := strings.TrimSpace(c.Host)
		host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "https://")
		return defaultScheme + "://" + strings.Trim(host, "/")
	}
	scheme := parsed.Scheme
	if defaultScheme == "https" {
		// The CLIP v2 API is only served over TLS.
		scheme = "https"
	}
	return scheme + "://" + parsed.Host
}

// PushoverConfig holds push-notification credentials.
type PushoverConfig struct {
	UserKey  string `json:"user_key"`
	APIToken string `json:"api_token"`
}

func (c PushoverConfig) Enabled() bool {
	return strings.TrimSpace(c.UserKey) != "" && strings.TrimSpace(c.APIToken) != ""
}
