// Package runner is the client boundary to the external test-execution
// collaborator. The core never executes candidate code itself; it sends a
// stripped bundle over HTTP and consumes the pass/fail counts.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/archeval/arbiter/internal/models"
)

// HTTPError is returned when the runner answers with a non-2xx status.
// Callers distinguish it from transport-level failures with errors.As.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("runner returned HTTP %d: %s", e.Status, e.Body)
}

// Client calls the test-execution runner.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a runner client for the resolved endpoint URL.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Endpoint returns the resolved runner URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Run submits a run request and returns the per-candidate outcomes.
//
// The operation is cancellable through ctx; timeout policy belongs to the
// caller (or the default client timeout), not to the scoring core. Failures
// are either an *HTTPError (status >= 400) or a wrapped transport error.
func (c *Client) Run(ctx context.Context, req models.RunRequest) (models.ExternalResults, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("runner unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read runner response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var result models.RunResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal runner response: %w", err)
	}

	if result.Results == nil {
		result.Results = models.ExternalResults{}
	}

	return result.Results, nil
}
