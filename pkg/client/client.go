package client

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

// Client is a Go SDK for the arbiter API
type Client struct {
	baseURL    string
	apiKey     string
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

// NewClient creates a new arbiter client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Problem is a catalog entry for one evaluation problem
type Problem struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Problem     string   `json:"problem"`
}

// ListOptions contains options for listing sessions
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateSession starts a new evaluation session for a problem
func (c *Client) CreateSession(ctx context.Context, problem string, ttlSeconds int) (*models.Session, error) {
	body, err := json.Marshal(models.CreateSessionRequest{
		Problem: problem,
		TTL:     ttlSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", "/api/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    *models.Session `json:"data"`
		Error   *apiErrorBody   `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// GetSession retrieves a session by ID
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/v1/sessions/%s", id), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    *models.Session `json:"data"`
		Error   *apiErrorBody   `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// DeleteSession removes a session
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/api/v1/sessions/%s", id), nil)
	if err != nil {
		return err
	}

	var result struct {
		Success bool          `json:"success"`
		Error   *apiErrorBody `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return nil
}

// ListSessions retrieves a list of sessions
func (c *Client) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	path := "/api/v1/sessions?"
	if opts.Status != "" {
		path += fmt.Sprintf("status=%s&", opts.Status)
	}
	if opts.Limit > 0 {
		path += fmt.Sprintf("limit=%d&", opts.Limit)
	}
	if opts.Offset > 0 {
		path += fmt.Sprintf("offset=%d&", opts.Offset)
	}

	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Sessions []*models.Session `json:"sessions"`
			Total    int               `json:"total"`
		} `json:"data"`
		Error *apiErrorBody `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data.Sessions, nil
}

// Regenerate replaces the session's bundle with a fresh one. The optional
// problem switches the session to a different problem template.
func (c *Client) Regenerate(ctx context.Context, id, problem string) (*models.Session, error) {
	body, err := json.Marshal(models.RegenerateRequest{Problem: problem})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/v1/sessions/%s/regenerate", id), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    *models.Session `json:"data"`
		Error   *apiErrorBody   `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// StartRun submits the session's bundle to the external test runner.
// The run executes asynchronously; poll GetSession or GetSelection.
func (c *Client) StartRun(ctx context.Context, id string) (*models.Session, error) {
	resp, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/v1/sessions/%s/run", id), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    *models.Session `json:"data"`
		Error   *apiErrorBody   `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// GetScores retrieves per-candidate scores for a session
func (c *Client) GetScores(ctx context.Context, id string) ([]models.ScoreResult, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/v1/sessions/%s/scores", id), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Scores        []models.ScoreResult `json:"scores"`
			BundleVersion int                  `json:"bundle_version"`
			Total         int                  `json:"total"`
		} `json:"data"`
		Error *apiErrorBody `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data.Scores, nil
}

// GetSelection retrieves the currently selected candidate for a session
func (c *Client) GetSelection(ctx context.Context, id string) (*models.SelectionResponse, error) {
	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/v1/sessions/%s/selection", id), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool                      `json:"success"`
		Data    *models.SelectionResponse `json:"data"`
		Error   *apiErrorBody             `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data, nil
}

// ListProblems retrieves the problem template catalog
func (c *Client) ListProblems(ctx context.Context) ([]*Problem, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/problems", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Problems []*Problem `json:"problems"`
			Total    int        `json:"total"`
		} `json:"data"`
		Error *apiErrorBody `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		return nil, fmt.Errorf("API error: %s - %s", result.Error.Code, result.Error.Message)
	}

	return result.Data.Problems, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, "GET", "/health", nil)
	return err
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
