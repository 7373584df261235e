// Package notify delivers fired alerts to the Pushover API.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

const (
	DefaultEndpoint = "https://api.pushover.net/1/messages.json"
	defaultTimeout  = 10 * time.Second
)

// DispatchError is a push that the service rejected or never received.
type DispatchError struct {
	Status int
	Err    error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return "dispatch failed"
	}
	if e.Status != 0 {
		return fmt.Sprintf("pushover status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("pushover request failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Pushover sends messages with one application token to one user key.
type Pushover struct {
	config     model.PushoverConfig
	endpoint   string
	httpClient *http.Client
}

func NewPushover(cfg model.PushoverConfig) *Pushover {
	return NewPushoverWithHTTPClient(cfg, DefaultEndpoint, &http.Client{Timeout: defaultTimeout})
}

func NewPushoverWithHTTPClient(cfg model.PushoverConfig, endpoint string, httpClient *http.Client) *Pushover {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	return &Pushover{config: cfg, endpoint: endpoint, httpClient: httpClient}
}

func (p *Pushover) Enabled() bool {
	return p != nil && p.config.Enabled()
}

// Send posts one message. Any transport failure or non-2xx response is a
// *DispatchError.
func (p *Pushover) Send(ctx context.Context, alert model.Alert) error {
	form := url.Values{}
	form.Set("token", p.config.APIToken)
	form.Set("user", p.config.UserKey)
	form.Set("title", alert.Title)
	form.Set("message", alert.Message)
	form.Set("priority", strconv.Itoa(int(alert.Priority)))
	if alert.Sound != "" {
		form.Set("sound", alert.Sound)
	}
	if alert.Priority == model.PriorityEmergency {
		// Emergency messages are rejected without a retry schedule.
		form.Set("retry", "60")
		form.Set("expire", "3600")
	}
	if !alert.FiredAt.IsZero() {
		form.Set("timestamp", strconv.FormatInt(alert.FiredAt.Unix(), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &DispatchError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &DispatchError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DispatchError{Status: resp.StatusCode, Err: fmt.Errorf("%s", rejectionReason(body))}
	}
	return nil
}

func rejectionReason(body []byte) string {
	var payload struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		return strings.Join(payload.Errors, "; ")
	}
	return strings.TrimSpace(string(body))
}
