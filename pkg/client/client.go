// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the companion server API.
//
// The companion server bridges chat clients to the claude CLI, multiplexing
// concurrent conversational sessions over one server process. This client
// library provides typed access to the server's HTTP endpoints.
//
// # Getting Started
//
// Create a client pointing to your companion server:
//
//	c := client.New("http://localhost:3001")
//
// The client provides access to different API resources through sub-clients:
//
//	// Send a prompt (empty SessionID starts a fresh conversation)
//	result, err := c.Commands.Process(ctx, client.CommandRequest{
//	    Prompt:           "summarize the README",
//	    WorkingDirectory: "/Users/me/project",
//	})
//
//	// List active sessions
//	sessions, err := c.Sessions.List(ctx)
//
//	// Check server health
//	health, err := c.Health.Get(ctx)
//
// # Authentication
//
// If the server is configured with an auth token, pass it with
// [WithToken]; it is sent as a bearer token on every request:
//
//	c := client.New("http://localhost:3001", client.WithToken("secret"))
//
// # API Versioning
//
// The server uses Stripe-style date-based API versioning. By default, the
// client uses the latest API version. You can pin to a specific version
// for stability:
//
//	c := client.New("http://localhost:3001", client.WithVersion("2026-02-11"))
//
// The version is sent via the Companion-Version HTTP header on each request.
//
// # Error Handling
//
// API errors are returned as *APIError values, which include an error code
// and message:
//
//	result, err := c.Commands.Process(ctx, req)
//	if err != nil {
//	    if apiErr, ok := err.(*client.APIError); ok {
//	        fmt.Printf("API error: %s - %s\n", apiErr.Code, apiErr.Message)
//	    }
//	}
//
// # Context Support
//
// All API methods accept a context.Context for cancellation and timeouts.
// Prompt turns can run for minutes; use [WithTimeout] to raise the default
// 30-second HTTP timeout when processing commands.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a companion server API client.
//
// A Client provides access to the API through resource-specific
// sub-clients. Use [New] to create a Client instance.
//
// The Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	version    string
	token      string
	httpClient *http.Client

	// Commands provides access to prompt processing and permission
	// responses. This is the main conversational surface.
	Commands *CommandClient

	// Sessions provides access to session listing and termination.
	Sessions *SessionClient

	// Events provides access to the typed event history.
	// Events track everything a session emits: assistant messages,
	// tool use, permission prompts, and final results.
	Events *EventClient

	// Health provides access to the server health aggregate.
	Health *HealthClient
}

// Option configures a [Client]. Options are passed to [New] to customize
// client behavior.
type Option func(*Client)

// New creates a new companion API client with the given base URL and options.
//
// The baseURL should be the root URL of the server (e.g., "http://localhost:3001").
// Any trailing slash is automatically removed.
//
// By default, the client uses:
//   - The latest API version ([LatestVersion])
//   - A 30-second HTTP timeout
//   - No authentication
//
// Use options like [WithToken], [WithVersion], [WithTimeout], or
// [WithHTTPClient] to customize.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: LatestVersion,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	// Initialize resource clients
	c.Commands = &CommandClient{c: c}
	c.Sessions = &SessionClient{c: c}
	c.Events = &EventClient{c: c}
	c.Health = &HealthClient{c: c}

	return c
}

// WithVersion sets the API version to use for all requests.
//
// The server uses Stripe-style date-based versioning (e.g., "2026-02-11").
// Pinning to a specific version ensures API compatibility as the server evolves.
// See the version constants ([LatestVersion], [Version20260211]) for available versions.
func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

// WithToken sets the bearer token sent on every request.
//
// Required when the server is configured with an auth_token. The token is
// sent via the Authorization header.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client for making requests.
//
// This is useful for advanced configurations like proxy settings or
// request tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout for all requests.
//
// The default timeout is 30 seconds. Prompt turns frequently take longer;
// raise this when using [CommandClient.Process] against real workloads.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Version returns the API version being used.
func (c *Client) Version() string {
	return c.version
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiResponse is the standard API response envelope.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// APIError represents an error response from the companion API.
//
// API errors include a machine-readable Code and a human-readable Message.
// Some errors may include additional Details for debugging.
//
// Common error codes include:
//   - "NOT_FOUND": The requested session does not exist
//   - "VALIDATION_FAILED": The request failed input validation
//   - "SESSION_BUSY": The session already has a turn in flight
//   - "PERMISSION_PENDING": A permission decision is outstanding
//   - "RATE_LIMITED": The CLI reported rate limiting after retries
//   - "EXECUTION_FAILED": The CLI process failed
type APIError struct {
	// Code is a machine-readable error code (e.g., "NOT_FOUND", "SESSION_BUSY").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details contains additional error information, if available.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// get performs a GET request to the given path.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// postJSON performs a POST request with an optional JSON body.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if body == nil {
		return c.do(ctx, http.MethodPost, path, nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data))
}

// deleteJSON performs a DELETE request with an optional JSON body.
func (c *Client) deleteJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	if body == nil {
		return c.do(ctx, http.MethodDelete, path, nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodDelete, path, bytes.NewReader(data))
}

// do performs an HTTP request and parses the response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set(VersionHeader, c.version)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// parseResponse reads and parses an API response.
func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Try to parse as standard envelope
	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		// If we can't parse it and status is bad, return error
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		// Return raw body for non-envelope responses
		return respBody, nil
	}

	// Check for error in envelope
	if apiResp.Error != nil {
		return nil, apiResp.Error
	}

	return apiResp.Data, nil
}
