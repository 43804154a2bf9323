package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/registry"
	"github.com/junctionhq/junction/pkg/types"
)

// Client talks to a hub's HTTP API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the hub at baseURL, e.g.
// "http://127.0.0.1:7300".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a hub error response, carrying the stable kind.
type APIError struct {
	Kind    types.ErrorKind
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// Register registers a new integration.
func (c *Client) Register(ctx context.Context, req types.RegisterRequest) (*types.Integration, error) {
	var rec types.Integration
	if err := c.do(ctx, http.MethodPost, "/api/v1/integrations", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns integrations matching filter.
func (c *Client) List(ctx context.Context, filter types.ListFilter) ([]*types.Integration, error) {
	path := "/api/v1/integrations?"
	if filter.Type != "" {
		path += "type=" + string(filter.Type) + "&"
	}
	if filter.Status != "" {
		path += "status=" + string(filter.Status) + "&"
	}
	if filter.Tag != "" {
		path += "tag=" + filter.Tag
	}

	var out struct {
		Integrations []*types.Integration `json:"integrations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Integrations, nil
}

// Get fetches one integration by id.
func (c *Client) Get(ctx context.Context, id string) (*types.Integration, error) {
	var rec types.Integration
	if err := c.do(ctx, http.MethodGet, "/api/v1/integrations/"+id, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateConfig merges patch into the integration's config.
func (c *Client) UpdateConfig(ctx context.Context, id string, patch types.Config) (*types.Integration, error) {
	var rec types.Integration
	if err := c.do(ctx, http.MethodPatch, "/api/v1/integrations/"+id, patch, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Enable re-activates a disabled integration.
func (c *Client) Enable(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/integrations/"+id+"/enable", nil, nil)
}

// Disable pauses an integration.
func (c *Client) Disable(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/integrations/"+id+"/disable", nil, nil)
}

// Test runs a one-shot health probe.
func (c *Client) Test(ctx context.Context, id string) (*registry.TestResult, error) {
	var result registry.TestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/integrations/"+id+"/test", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteAction dispatches a named action to an integration.
func (c *Client) ExecuteAction(ctx context.Context, id, action string, params map[string]any) (any, error) {
	var out struct {
		Result any `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/integrations/"+id+"/actions/"+action, params, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// GetMetrics returns an integration's counters.
func (c *Client) GetMetrics(ctx context.Context, id string) (*types.Metrics, error) {
	var m types.Metrics
	if err := c.do(ctx, http.MethodGet, "/api/v1/integrations/"+id+"/metrics", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Deintegrate starts a teardown run.
func (c *Client) Deintegrate(ctx context.Context, id string, opts types.DeintegrateOptions) (*types.Deintegration, error) {
	var run types.Deintegration
	if err := c.do(ctx, http.MethodDelete, "/api/v1/integrations/"+id, opts, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetDeintegration fetches one teardown run.
func (c *Client) GetDeintegration(ctx context.Context, id string) (*types.Deintegration, error) {
	var run types.Deintegration
	if err := c.do(ctx, http.MethodGet, "/api/v1/deintegrations/"+id, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ConfirmManual resumes a teardown awaiting confirmation.
func (c *Client) ConfirmManual(ctx context.Context, deintegrationID string) (*types.Deintegration, error) {
	var run types.Deintegration
	if err := c.do(ctx, http.MethodPost, "/api/v1/deintegrations/"+deintegrationID+"/confirm", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Reintegrate rebuilds an integration from its preserved state.
func (c *Client) Reintegrate(ctx context.Context, deintegrationID string) (*types.Integration, error) {
	var rec types.Integration
	if err := c.do(ctx, http.MethodPost, "/api/v1/deintegrations/"+deintegrationID+"/reintegrate", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Events returns the hub's event history, newest first.
func (c *Client) Events(ctx context.Context, topic string, limit int) ([]*bus.Event, error) {
	path := fmt.Sprintf("/api/v1/events?limit=%d", limit)
	if topic != "" {
		path += "&topic=" + topic
	}
	var out struct {
		Events []*bus.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Scan triggers a discovery sweep and returns the newly registered
// integrations.
func (c *Client) Scan(ctx context.Context) ([]*types.Integration, error) {
	var out struct {
		Registered []*types.Integration `json:"registered"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/discovery/scan", nil, &out); err != nil {
		return nil, err
	}
	return out.Registered, nil
}

// Healthz reports whether the hub answers its health endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Kind != "" {
			return &APIError{
				Kind:    types.ErrorKind(envelope.Error.Kind),
				Message: envelope.Error.Message,
				Status:  resp.StatusCode,
			}
		}
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
