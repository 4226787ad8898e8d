package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/gitlab-flows/internal/bridge"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
)

// Client is the API client for gitlab-flows
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client. Flow runs can take minutes, so tool
// calls are only bounded by timeout when it is positive.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListTools retrieves the callable tool definitions
func (c *Client) ListTools() ([]bridge.Tool, error) {
	var response struct {
		Data []bridge.Tool `json:"data"`
	}
	if err := c.do(http.MethodGet, "/api/v1/tools", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// CallTool runs a tool on the server and returns its response
func (c *Client) CallTool(name string, args map[string]any) (*bridge.Response, error) {
	if args == nil {
		args = map[string]any{}
	}
	path := fmt.Sprintf("/api/v1/tools/%s/call", url.PathEscape(name))

	var response struct {
		Data *bridge.Response `json:"data"`
	}
	if err := c.do(http.MethodPost, path, nil, args, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ListRuns retrieves indexed runs, newest first. An empty flow lists every flow.
func (c *Client) ListRuns(flow string, limit int) ([]*domain.RunSummary, error) {
	params := url.Values{}
	if flow != "" {
		params.Set("flow", flow)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.RunSummary `json:"data"`
	}
	if err := c.do(http.MethodGet, "/api/v1/runs", params, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun retrieves one indexed run
func (c *Client) GetRun(id string) (*domain.RunSummary, error) {
	var response struct {
		Data *domain.RunSummary `json:"data"`
	}
	if err := c.do(http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

// APIError is a non-200 response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) do(method, path string, params url.Values, body, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
