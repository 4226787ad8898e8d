// Package gitlab is a small GitLab v4 REST client: authenticated requests,
// content-type aware decoding and X-Next-Page pagination.
package gitlab

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

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
)

const (
	// TokenHeader carries the personal access token.
	TokenHeader = "PRIVATE-TOKEN"
	// NextPageHeader names the next page of a list endpoint; empty on the last page.
	NextPageHeader = "X-Next-Page"

	// DefaultPerPage is GitLab's maximum page size.
	DefaultPerPage = 100
)

// AuthMode selects how the credential is sent.
type AuthMode string

const (
	AuthPrivateToken AuthMode = "private-token"
	AuthOAuth2       AuthMode = "oauth2"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is one decoded API response.
//
// Data is a json.RawMessage for JSON bodies, a string for any other content
// type, and nil when the body is empty.
type Response struct {
	Data       any
	Header     http.Header
	StatusCode int
}

// Client wraps the GitLab REST API.
type Client struct {
	baseURL    string
	token      string
	perPage    int
	authMode   AuthMode
	httpClient HTTPClient
	limiter    RateLimiter
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAuthMode switches between the PRIVATE-TOKEN header and OAuth2 bearer tokens.
func WithAuthMode(mode AuthMode) Option {
	return func(c *Client) { c.authMode = mode }
}

// WithRateLimiter paces requests using GitLab's RateLimit-* headers.
func WithRateLimiter(l RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "gitlab").Logger() }
}

// NewClient creates a new GitLab API client. A non-positive perPage falls back to DefaultPerPage.
func NewClient(baseURL, token string, perPage int, opts ...Option) *Client {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		perPage:  perPage,
		authMode: AuthPrivateToken,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = c.defaultHTTPClient()
	}
	return c
}

// defaultHTTPClient has no timeout: a hung request blocks the run.
func (c *Client) defaultHTTPClient() HTTPClient {
	if c.authMode == AuthOAuth2 && c.token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
		return oauth2.NewClient(context.Background(), ts)
	}
	return &http.Client{}
}

// BaseURL returns the base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PerPage returns the page size used by Paginate.
func (c *Client) PerPage() int {
	return c.perPage
}

// Get performs a GET and returns the decoded body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (any, error) {
	resp, err := c.Request(ctx, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetInto performs a GET and unmarshals a JSON body into v.
func (c *Client) GetInto(ctx context.Context, path string, query url.Values, v any) error {
	data, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	raw, ok := data.(json.RawMessage)
	if !ok {
		return apperrors.NewDecodeError(fmt.Sprint(data), fmt.Errorf("expected a JSON response from %s", path))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.NewDecodeError(string(raw), err)
	}
	return nil
}

// GetRaw performs a GET and returns the JSON body untouched.
func (c *Client) GetRaw(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	data, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return asRaw(data)
}

// Paginate follows X-Next-Page from page 1 and concatenates every page's elements.
func (c *Client) Paginate(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	results := []json.RawMessage{}
	page := 1

	for {
		pageQuery := cloneValues(query)
		pageQuery.Set("page", strconv.Itoa(page))
		pageQuery.Set("per_page", strconv.Itoa(c.perPage))

		resp, err := c.Request(ctx, http.MethodGet, path, pageQuery, nil, nil)
		if err != nil {
			return nil, err
		}

		items, err := elements(resp.Data)
		if err != nil {
			return nil, err
		}
		results = append(results, items...)

		next := strings.TrimSpace(resp.Header.Get(NextPageHeader))
		if next == "" {
			break
		}
		page, err = strconv.Atoi(next)
		if err != nil || page <= 0 {
			page = 1
		}
	}

	return results, nil
}

// Request executes an authenticated API request. Non-2xx responses fail with
// a transport error carrying the status and body.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, header http.Header, body []byte) (*Response, error) {
	u, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.authMode != AuthOAuth2 && c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.Debug().Str("method", method).Str("path", u.Path).Str("query", u.RawQuery).Msg("gitlab request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if c.limiter != nil {
		c.limiter.Observe(resp.Header)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response %s %s: %w", method, u.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewTransportError(method, u.Path, resp.StatusCode, string(respBody))
	}

	data, err := decodeBody(respBody, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Response{
		Data:       data,
		Header:     resp.Header,
		StatusCode: resp.StatusCode,
	}, nil
}

// buildURL keeps any query already on path and overlays params, one value per key.
func (c *Client) buildURL(path string, params url.Values) (*url.URL, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	merged := u.Query()
	for key, values := range params {
		if len(values) == 0 {
			continue
		}
		merged.Set(key, values[len(values)-1])
	}
	if len(merged) > 0 {
		u.RawQuery = merged.Encode()
	}
	return u, nil
}

func decodeBody(body []byte, contentType string) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return string(body), nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewDecodeError(string(body), err)
	}
	return raw, nil
}

// elements flattens one page: arrays contribute their items, anything else is a single item.
func elements(data any) ([]json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := asRaw(data)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, apperrors.NewDecodeError(string(raw), err)
		}
		return items, nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	return []json.RawMessage{raw}, nil
}

func asRaw(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return v, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding response value: %w", err)
		}
		return encoded, nil
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}

// PathSegment escapes a namespaced path ("group/sub") for use as a single URL segment.
func PathSegment(s string) string {
	return url.PathEscape(s)
}

// API is the subset of the client the flows depend on.
type API interface {
	GetRaw(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
	Paginate(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error)
}

var _ API = (*Client)(nil)

// IDString renders a JSON id (number or string) as a plain string.
func IDString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("missing id")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("invalid id %s: %w", trimmed, err)
		}
		return s, nil
	}
	return string(trimmed), nil
}

// Factory builds an API client for one GitLab instance.
type Factory func(baseURL, token string, perPage int) API

// NewFactory returns a Factory that creates Clients with opts applied.
func NewFactory(opts ...Option) Factory {
	return func(baseURL, token string, perPage int) API {
		return NewClient(baseURL, token, perPage, opts...)
	}
}
