package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 4 << 20
	applicationKey = "hue-application-key"
)

// Client talks to one bridge: the v1 REST API for polling and light control
// and the CLIP v2 API for resources and the event stream.
type Client struct {
	config     model.BridgeConfig
	httpClient *http.Client
	clipClient *http.Client
	// streamClient has no overall timeout; the stream lives until cancelled.
	streamClient *http.Client
}

func NewClient(cfg model.BridgeConfig) *Client {
	// The bridge serves a self-signed certificate on the CLIP v2 port.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &Client{
		config:       cfg,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		clipClient:   &http.Client{Timeout: defaultTimeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
	}
}

// NewClientWithHTTPClient uses httpClient for every request; the stream
// request relies on context cancellation only.
func NewClientWithHTTPClient(cfg model.BridgeConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		return NewClient(cfg)
	}
	stream := *httpClient
	stream.Timeout = 0
	if httpClient.Timeout == 0 {
		timed := *httpClient
		timed.Timeout = defaultTimeout
		httpClient = &timed
	}
	return &Client{config: cfg, httpClient: httpClient, clipClient: httpClient, streamClient: &stream}
}

func (c *Client) Config() model.BridgeConfig {
	return c.config
}

// GetSensors fetches and parses every v1 sensor.
func (c *Client) GetSensors(ctx context.Context) ([]model.Sensor, error) {
	body, err := c.get(ctx, c.httpClient, c.config.BaseURL()+"/sensors", false)
	if err != nil {
		return nil, err
	}
	return ParseSensors(body)
}

// GetLights fetches and parses every v1 light.
func (c *Client) GetLights(ctx context.Context) ([]model.Light, error) {
	body, err := c.get(ctx, c.httpClient, c.config.BaseURL()+"/lights", false)
	if err != nil {
		return nil, err
	}
	return ParseLights(body)
}

// SetLightState switches a light on or off.
func (c *Client) SetLightState(ctx context.Context, id string, on bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("light id is required")
	}
	payload, err := json.Marshal(map[string]any{"on": on})
	if err != nil {
		return err
	}
	endpoint := c.config.BaseURL() + "/lights/" + id + "/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(c.httpClient, req, "lights/"+id+"/state")
	if err != nil {
		return err
	}
	return firstAPIError(body)
}

// BridgeName checks connectivity and credentials by reading /config.
func (c *Client) BridgeName(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.httpClient, c.config.BaseURL()+"/config", false)
	if err != nil {
		return "", err
	}
	var cfg struct {
		Name string `json:"name"`
	}
	if err := decodeV1(body, &cfg); err != nil {
		return "", classifyDecodeError("config", err)
	}
	if cfg.Name == "" {
		return "", &PayloadError{Resource: "config", Err: fmt.Errorf("missing bridge name")}
	}
	return cfg.Name, nil
}

// Resources fetches every CLIP v2 resource and indexes it for event routing.
func (c *Client) Resources(ctx context.Context) (*Resolver, error) {
	body, err := c.get(ctx, c.clipClient, c.config.ClipURL()+"/clip/v2/resource", true)
	if err != nil {
		return nil, err
	}
	return ParseResources(body)
}

// OpenEventStream opens the CLIP v2 SSE endpoint. The caller owns the body.
func (c *Client) OpenEventStream(ctx context.Context) (io.ReadCloser, error) {
	endpoint := c.config.ClipURL() + "/eventstream/clip/v2"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(applicationKey, c.config.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &StatusError{Endpoint: "eventstream", Status: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, endpoint string, clip bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if clip {
		req.Header.Set(applicationKey, c.config.APIKey)
	}
	return c.do(client, req, endpointName(endpoint))
}

func (c *Client) do(client *http.Client, req *http.Request, name string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &StatusError{Endpoint: name, Status: resp.StatusCode, Body: string(body)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// endpointName strips the origin and application key from a request URL for
// error messages.
func endpointName(endpoint string) string {
	if idx := strings.Index(endpoint, "/api/"); idx >= 0 {
		rest := endpoint[idx+len("/api/"):]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return rest[slash+1:]
		}
		return rest
	}
	if idx := strings.Index(endpoint, "/clip/"); idx >= 0 {
		return endpoint[idx+1:]
	}
	return endpoint
}
