// Package admin notifies the admin backend that an application instance came up or went
// away. The backend is a plain HTTP service; any 2xx answer counts as success and the
// response body is not interpreted.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ship-client/shiperr"
)

const (
	RegisterPath   = "/register"
	UnregisterPath = "/unregister"
)

// RegisterRequest announces an instance.
type RegisterRequest struct {
	AppName     string `json:"appName"`
	ContextPath string `json:"contextPath"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Version     string `json:"version"`
}

// UnregisterRequest withdraws an instance.
type UnregisterRequest struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
}

// Client posts notifications to the admin backend at baseURL.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for adminURL, given as host[:port]; an explicit http:// or
// https:// scheme is kept. Every request is bounded by timeout.
func NewClient(adminURL string, timeout time.Duration) *Client {
	base := strings.TrimRight(adminURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}
}

// Register posts req to the register endpoint.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.post(ctx, RegisterPath, req)
}

// Unregister posts req to the unregister endpoint.
func (c *Client) Unregister(ctx context.Context, req UnregisterRequest) error {
	return c.post(ctx, UnregisterPath, req)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	reqURL := c.baseURL + path

	payload, err := json.Marshal(body)
	if err != nil {
		return shiperr.NewNotificationError("encode "+path+" payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return shiperr.NewNotificationError("build "+path+" request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return shiperr.NewNotificationError("post "+reqURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return shiperr.NewNotificationError("post "+reqURL, fmt.Errorf("admin returned %d", resp.StatusCode))
	}
	return nil
}
