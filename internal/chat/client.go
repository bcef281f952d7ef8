// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// maxErrorBodySize limits how much of an error response is read for
	// the failure message.
	maxErrorBodySize = 8 * 1024

	// sendBurst and sendsPerSecond shape the client-side send limiter.
	sendBurst      = 2
	sendsPerSecond = 1
)

var (
	// Shared HTTP client with connection pooling for non-streaming calls.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient carries no timeout; streaming reads run until
	// the body ends or the request context is cancelled.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	DeveloperMessage string   `json:"developer_message"`
	UserMessage      string   `json:"user_message"`
	Model            string   `json:"model"`
	APIKey           string   `json:"api_key,omitempty"`
	Images           []string `json:"images,omitempty"`
}

// TransportError is a rejected chat request: a non-2xx response or a
// failure before any response arrived (Status 0).
type TransportError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request failed: %s", e.Message)
	}
	return fmt.Sprintf("request rejected: status %d: %s", e.Status, e.Message)
}

// Is matches TransportErrors by status code.
func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Status == t.Status
}

// Client talks to the backend chat proxy. The access token is pulled
// per request from the token source so a refresh mid-session is picked
// up without rewiring.
type Client struct {
	baseURL     string
	tokenSource func() string
	limiter     *rate.Limiter

	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a backend client. tokenSource returns the current
// Bearer token, or "" when anonymous.
func NewClient(baseURL string, tokenSource func() string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		tokenSource:  tokenSource,
		limiter:      rate.NewLimiter(rate.Limit(sendsPerSecond), sendBurst),
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
	}
}

// WithHTTPClients overrides the pooled clients, for tests.
func (c *Client) WithHTTPClients(normal, streaming *http.Client) *Client {
	c.httpClient = normal
	c.streamClient = streaming
	return c
}

// Stream sends the chat request and returns the response body once the
// backend has accepted it (2xx headers received). The caller owns the
// returned reader and must close it. A non-2xx response or transport
// failure returns a *TransportError.
func (c *Client) Stream(ctx context.Context, chatReq ChatRequest) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokenSource(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log.Printf("CHAT_REQUEST | model=%s images=%d", chatReq.Model, len(chatReq.Images))

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		return nil, &TransportError{
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(msg)),
		}
	}

	return resp.Body, nil
}

// Health checks the backend's /api/health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}
