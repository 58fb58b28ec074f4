// Package client is the typed HTTP client for the softphone API, used by the
// CLI subcommands.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	types "github.com/sebas/softphone/api/types/v1"
)

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error returns the error message.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.StatusCode, e.Message)
}

// Client is an HTTP client for a softphone API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL. A bare host:port is
// treated as http.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches the health summary
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", &health); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &health, nil
}

// Status fetches connection, registration and session state
func (c *Client) Status(ctx context.Context) (*types.StatusResponse, error) {
	var status types.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", &status); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &status, nil
}

// Stats fetches session and history counters
func (c *Client) Stats(ctx context.Context) (*types.StatsResponse, error) {
	var stats types.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", &stats); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &stats, nil
}

// Sessions fetches all live sessions
func (c *Client) Sessions(ctx context.Context) ([]types.Session, error) {
	var sessions []types.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", &sessions); err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	return sessions, nil
}

// InboundSessions fetches the inbound queue, oldest first
func (c *Client) InboundSessions(ctx context.Context) ([]types.Session, error) {
	var sessions []types.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/inbound", &sessions); err != nil {
		return nil, fmt.Errorf("inbound sessions: %w", err)
	}
	return sessions, nil
}

// EndSession hangs up a live session and returns its history record
func (c *Client) EndSession(ctx context.Context, id string) (*types.HistoryRecord, error) {
	var rec types.HistoryRecord
	if err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), &rec); err != nil {
		return nil, fmt.Errorf("end session %s: %w", id, err)
	}
	return &rec, nil
}

// RejectSession declines a queued inbound offer
func (c *Client) RejectSession(ctx context.Context, id string) error {
	path := "/api/v1/sessions/" + url.PathEscape(id) + "?action=reject"
	if err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("reject session %s: %w", id, err)
	}
	return nil
}

// History fetches history records matching query. The keys are those
// accepted by the API (direction, missed, tag, q, sort, limit, ...).
func (c *Client) History(ctx context.Context, query url.Values) (*types.HistoryResponse, error) {
	var resp types.HistoryResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/history", query), &resp); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &resp, nil
}

// DeleteHistory removes one history record
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/history/"+url.PathEscape(id), nil); err != nil {
		return fmt.Errorf("delete history %s: %w", id, err)
	}
	return nil
}

// ClearHistory removes records matching query, or every record when query
// is empty, and returns how many were removed.
func (c *Client) ClearHistory(ctx context.Context, query url.Values) (int, error) {
	var resp types.ClearResponse
	if err := c.do(ctx, http.MethodDelete, withQuery("/api/v1/history", query), &resp); err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return resp.Removed, nil
}

// Connect asks the client to start its transport
func (c *Client) Connect(ctx context.Context) error { return c.command(ctx, "connect") }

// Disconnect asks the client to stop its transport
func (c *Client) Disconnect(ctx context.Context) error { return c.command(ctx, "disconnect") }

// Register asks the client to register its address of record
func (c *Client) Register(ctx context.Context) error { return c.command(ctx, "register") }

// Unregister asks the client to remove its registration
func (c *Client) Unregister(ctx context.Context) error { return c.command(ctx, "unregister") }

func (c *Client) command(ctx context.Context, name string) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/"+name, nil); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// do performs a request and decodes a success body into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body types.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			apiErr.Message = body.Error
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
