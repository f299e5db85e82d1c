// Package client provides a Go client for the incident-cluster HTTP API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/thebtf/incident-cluster/pkg/models"
)

const (
	// HealthCheckTimeout is the timeout for health checks.
	HealthCheckTimeout = 1 * time.Second

	// RequestTimeout is the default timeout for API calls.
	RequestTimeout = 60 * time.Second
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request failed: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("request failed: %d %s", e.Status, e.Detail)
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Client talks to one incident-cluster instance.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:8080".
func New(baseURL, apiKey string) *Client {
	return &Client{
		http:    &http.Client{Timeout: RequestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// IsRunning checks if the service is up and healthy.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	h, err := c.Health(ctx)
	return err == nil && h.Status == "ok"
}

// Health fetches the liveness status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Cluster submits a batch for clustering.
func (c *Client) Cluster(ctx context.Context, req *models.ClusterRequest) (*models.ClusterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp models.ClusterResponse
	if err := c.do(ctx, http.MethodPost, "/cluster", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Select ranks incidents and returns the top ones.
func (c *Client) Select(ctx context.Context, req *models.SelectRequest) (*models.SelectResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var resp models.SelectResponse
	if err := c.do(ctx, http.MethodPost, "/select", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Publish enqueues a raw cluster request on the events stream and returns the entry id.
func (c *Client) Publish(ctx context.Context, payload []byte) (string, error) {
	var resp struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/events", payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.NewDecoder(resp.Body).Decode(&detail) == nil {
			apiErr.Detail = detail.Detail
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
