// Package api is the HTTP client the CLI uses to talk to a running orchestra server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"orchestra/internal/config"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/operations"
)

// APIClient represents the HTTP client for the orchestra server API
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client instance. A URL without a scheme gets http.
func NewAPIClient(baseURL string) *APIClient {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the server address requests go to
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// Health reports server health
func (c *APIClient) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// CreateWorktree creates a worktree
func (c *APIClient) CreateWorktree(ctx context.Context, req operations.CreateWorktreeRequest) (*db.Worktree, error) {
	var w db.Worktree
	if err := c.do(ctx, http.MethodPost, "/api/worktrees", req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorktrees lists worktrees matching filters
func (c *APIClient) ListWorktrees(ctx context.Context, filters map[string]string) ([]*db.Worktree, error) {
	q := url.Values{}
	for k, v := range filters {
		if v != "" {
			q.Set(k, v)
		}
	}
	path := "/api/worktrees"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Worktrees []*db.Worktree `json:"worktrees"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Worktrees, nil
}

// GetWorktree gets a specific worktree
func (c *APIClient) GetWorktree(ctx context.Context, id string) (*db.Worktree, error) {
	var w db.Worktree
	if err := c.do(ctx, http.MethodGet, "/api/worktrees/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWorktree applies a partial update
func (c *APIClient) UpdateWorktree(ctx context.Context, id string, update operations.WorktreeUpdate) (*db.Worktree, error) {
	var w db.Worktree
	if err := c.do(ctx, http.MethodPatch, "/api/worktrees/"+url.PathEscape(id), update, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// DeleteWorktree deletes a worktree
func (c *APIClient) DeleteWorktree(ctx context.Context, id string) (*db.Worktree, error) {
	var w db.Worktree
	if err := c.do(ctx, http.MethodDelete, "/api/worktrees/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// WorktreeStats returns counts by status and port utilization
func (c *APIClient) WorktreeStats(ctx context.Context) (*operations.WorktreeStats, error) {
	var stats operations.WorktreeStats
	if err := c.do(ctx, http.MethodGet, "/api/worktrees/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Reconcile runs one reconciliation pass on the server
func (c *APIClient) Reconcile(ctx context.Context) (*operations.ReconcileReport, error) {
	var report operations.ReconcileReport
	if err := c.do(ctx, http.MethodPost, "/api/worktrees/reconcile", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CommandOutput is the result of a command run in a worktree
type CommandOutput struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Duration string `json:"duration"`
}

// RunCommand runs an allow-listed command in a worktree
func (c *APIClient) RunCommand(ctx context.Context, id, command string) (*CommandOutput, error) {
	var out CommandOutput
	body := map[string]string{"command": command}
	if err := c.do(ctx, http.MethodPost, "/api/worktrees/"+url.PathEscape(id)+"/commands", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateZone creates a zone
func (c *APIClient) CreateZone(ctx context.Context, input operations.ZoneInput) (*db.Zone, error) {
	var z db.Zone
	if err := c.do(ctx, http.MethodPost, "/api/zones", input, &z); err != nil {
		return nil, err
	}
	return &z, nil
}

// ListZones lists all zones
func (c *APIClient) ListZones(ctx context.Context) ([]*db.Zone, error) {
	var resp struct {
		Zones []*db.Zone `json:"zones"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/zones", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Zones, nil
}

// GetZone gets a zone by id
func (c *APIClient) GetZone(ctx context.Context, id string) (*db.Zone, error) {
	var z db.Zone
	if err := c.do(ctx, http.MethodGet, "/api/zones/"+url.PathEscape(id), nil, &z); err != nil {
		return nil, err
	}
	return &z, nil
}

// ResolveZone accepts a zone id or name
func (c *APIClient) ResolveZone(ctx context.Context, ref string) (*db.Zone, error) {
	z, err := c.GetZone(ctx, ref)
	if err == nil || !errors.HasCode(err, errors.ErrNotFound) {
		return z, err
	}
	zones, listErr := c.ListZones(ctx)
	if listErr != nil {
		return nil, listErr
	}
	for _, candidate := range zones {
		if candidate.Name == ref {
			return candidate, nil
		}
	}
	return nil, err
}

// DeleteZone deletes a zone
func (c *APIClient) DeleteZone(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/zones/"+url.PathEscape(id), nil, nil)
}

// AssignWorktree adds a worktree to a zone
func (c *APIClient) AssignWorktree(ctx context.Context, zoneID, worktreeID string) (*db.Zone, error) {
	var z db.Zone
	body := map[string]string{"worktree_id": worktreeID}
	if err := c.do(ctx, http.MethodPost, "/api/zones/"+url.PathEscape(zoneID)+"/worktrees", body, &z); err != nil {
		return nil, err
	}
	return &z, nil
}

// RemoveWorktree removes a worktree from a zone
func (c *APIClient) RemoveWorktree(ctx context.Context, zoneID, worktreeID string) error {
	path := "/api/zones/" + url.PathEscape(zoneID) + "/worktrees/" + url.PathEscape(worktreeID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ApplyZones applies zone definitions
func (c *APIClient) ApplyZones(ctx context.Context, zf *config.ZoneFile) (*operations.ApplyReport, error) {
	var report operations.ApplyReport
	if err := c.do(ctx, http.MethodPost, "/api/zones/apply", zf, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListExecutions lists trigger executions of a zone, newest first
func (c *APIClient) ListExecutions(ctx context.Context, zoneID, status string, limit int) ([]*db.TriggerExecution, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/zones/" + url.PathEscape(zoneID) + "/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Executions []*db.TriggerExecution `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Executions, nil
}

// SendEvent raises an external event and reports whether a zone queued it
func (c *APIClient) SendEvent(ctx context.Context, ev operations.ExternalEvent) (bool, error) {
	var resp struct {
		Queued bool `json:"queued"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/events", ev, &resp); err != nil {
		return false, err
	}
	return resp.Queued, nil
}

// do sends a JSON request and decodes a JSON response into out. Error
// responses are decoded back into coded errors.
func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope errors.HTTPErrorResponse
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	oe := errors.NewWithDetails(envelope.Error.Code, envelope.Error.Message, envelope.Error.Details)
	oe.HTTPStatus = resp.StatusCode
	for k, v := range envelope.Context {
		oe.WithContext(k, v)
	}
	return oe
}
