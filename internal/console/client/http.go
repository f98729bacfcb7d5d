package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient makes command calls to the tagscan daemon.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8765").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enable sends POST /api/scan/enable.
func (c *HTTPClient) Enable() error {
	return c.post("/api/scan/enable")
}

// Disable sends POST /api/scan/disable.
func (c *HTTPClient) Disable() error {
	return c.post("/api/scan/disable")
}

// Lifecycle reports a host phase ("resumed" or "paused").
func (c *HTTPClient) Lifecycle(phase string) error {
	return c.post("/api/lifecycle/" + url.PathEscape(phase))
}

// Status fetches /api/scan/status.
func (c *HTTPClient) Status() (*Status, error) {
	var s Status
	if err := c.get("/api/scan/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Available fetches /api/scan/available.
func (c *HTTPClient) Available() (bool, error) {
	var out struct {
		Available bool `json:"available"`
	}
	if err := c.get("/api/scan/available", &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return replyError("GET", path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(path string) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return replyError("POST", path, resp)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// replyError prefers the daemon's error code over the raw body.
func replyError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var r Reply
	if json.Unmarshal(body, &r) == nil && r.Error != "" {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, r.Error)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
}
