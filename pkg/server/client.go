package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/haivivi/voicebridge/pkg/bridge"
)

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client calls the admin endpoints of a running server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for base, e.g. "http://localhost:8080".
// httpClient may be nil.
func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health returns nil when the server reports ok.
func (c *Client) Health(ctx context.Context) error {
	var v map[string]string
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &v); err != nil {
		return err
	}
	if v["status"] != "ok" {
		return fmt.Errorf("server: unhealthy: %v", v)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Sessions(ctx context.Context) ([]bridge.Snapshot, error) {
	var list []bridge.Snapshot
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateSession(ctx context.Context, callID string) (*bridge.Snapshot, error) {
	var snap bridge.Snapshot
	if err := c.do(ctx, http.MethodPost, "/sessions", CreateSessionRequest{CallID: callID}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// TerminateSession closes a session by session id or provider call id.
func (c *Client) TerminateSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

// ToolsURL returns the websocket URL of the tool endpoint.
func (c *Client) ToolsURL() string {
	return wsURL(c.base) + "/tools"
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
