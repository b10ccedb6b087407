// Package apiclient is a client for the rfidgate status API, used by the
// commands that inspect a running server.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrInvalidResponse is wrapped by errors for bodies that are not the
// expected JSON.
var ErrInvalidResponse = errors.New("invalid response")

// Client is the rfidgate status API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithTimeout returns a new client whose requests time out after d.
func (c *Client) WithTimeout(d time.Duration) *Client {
	return &Client{
		baseURL:    c.baseURL,
		httpClient: &http.Client{Timeout: d},
	}
}

// envelope is the wrapper every non-problem response uses.
type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
	Error  string `json:"error,omitempty"`
}

// get performs a GET request and decodes the body into result. Status codes
// listed in accept are decoded instead of being turned into an APIError.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any, accept ...int) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 && !accepted(resp.StatusCode, accept) {
		return newAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
		}
	}
	return nil
}

func accepted(code int, accept []int) bool {
	for _, a := range accept {
		if a == code {
			return true
		}
	}
	return false
}
