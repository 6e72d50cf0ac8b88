package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
)

// Client sends JSON requests to a test server. When a validator is set,
// every response is checked against the OpenAPI document.
type Client struct {
	BaseURL string
	Token   string

	http      *http.Client
	validator *OpenAPIValidator
	t         *testing.T
}

// NewClient returns a client that does not validate responses.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, http: &http.Client{}}
}

// NewClientWithValidation returns a client that validates responses
// against the document at specPath.
func NewClientWithValidation(t *testing.T, baseURL, specPath string) *Client {
	t.Helper()
	c := NewClientWithValidator(baseURL, NewOpenAPIValidator(t, specPath))
	c.t = t
	return c
}

// NewClientWithValidator returns a validating client for a validator
// loaded in TestMain. Call SetT before use.
func NewClientWithValidator(baseURL string, validator *OpenAPIValidator) *Client {
	c := NewClient(baseURL)
	c.validator = validator
	return c
}

// SetT points validation failures at t. Shared clients call it per test.
func (c *Client) SetT(t *testing.T) {
	c.t = t
}

// WithToken returns a copy of the client authenticated with a bearer token.
// An empty token sends no Authorization header.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.Token = token
	return &clone
}

// GET performs a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.do(http.MethodGet, path, nil)
}

// POST performs a POST request. A nil body sends no content.
func (c *Client) POST(path string, body any) (*http.Response, error) {
	return c.do(http.MethodPost, path, body)
}

// DELETE performs a DELETE request.
func (c *Client) DELETE(path string) (*http.Response, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if c.validator != nil && c.t != nil {
		c.validator.ValidateResponse(c.t, req, resp)
	}
	return resp, nil
}

// DecodeJSON decodes and closes the response body.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %d response: %v", resp.StatusCode, err)
	}
}

// ReadBody reads and closes the response body.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return string(data)
}
