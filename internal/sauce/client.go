// Package sauce is a small client for the Sauce Labs REST API: account
// lookup, application storage upload, job submission through the test
// composer, job status and build listing.
package sauce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/specialistvlad/saucegrid/internal/ctxlog"
)

var (
	ErrUnauthorized = errors.New("sauce labs request unauthorized")
	ErrNotFound     = errors.New("sauce labs resource not found")
)

// maxBody caps how much of a response is read into memory.
const maxBody = 2 << 20

// APIError is returned for any non-success response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("sauce labs api error: %s %s (status=%d)", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("sauce labs api error: %s %s (status=%d): %s", e.Method, e.Path, e.StatusCode, body)
}

// Is lets callers match status classes with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Credentials authenticate every request.
type Credentials struct {
	Username  string
	AccessKey string
}

// Client talks to one region of the Sauce Labs API.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request, including the archive upload. Zero
// means no limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient returns a client for baseURL, usually Region.APIURL().
func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Username returns the account the client authenticates as.
func (c *Client) Username() string { return c.creds.Username }

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.AccessKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	logger := ctxlog.FromContext(req.Context())
	logger.Debug("Sending Sauce Labs request.", "method", req.Method, "path", req.URL.Path)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("failed to read response of %s %s: %w", req.Method, req.URL.Path, err)
	}
	logger.Debug("Received Sauce Labs response.", "path", req.URL.Path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
