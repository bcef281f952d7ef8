// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// discoveryCacheTTL is how long a fetched discovery document stays valid.
const discoveryCacheTTL = time.Hour

// maxDiscoverySize limits the discovery response body size.
const maxDiscoverySize = 1 * 1024 * 1024

// Endpoints holds the identity provider URLs the client talks to.
type Endpoints struct {
	AuthorizeURL string
	TokenURL     string
	UserinfoURL  string
	LogoutURL    string
}

// complete reports whether every endpoint the flow needs is set.
func (e Endpoints) complete() bool {
	return e.AuthorizeURL != "" && e.TokenURL != "" && e.UserinfoURL != "" && e.LogoutURL != ""
}

// discoveryDocument is the subset of the OpenID Connect discovery
// metadata this client consumes.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

// Provider resolves the identity provider's endpoint set. Endpoints may
// be configured statically; anything left empty is filled from the
// issuer's /.well-known/openid-configuration document, cached for one
// hour.
type Provider struct {
	mu sync.Mutex

	issuerURL  string
	static     Endpoints
	httpClient *http.Client

	cached      Endpoints
	cacheExpiry time.Time
}

// NewProvider creates a Provider for the given issuer. Static endpoint
// values take precedence over discovered ones; pass a zero Endpoints to
// rely on discovery entirely.
func NewProvider(issuerURL string, static Endpoints) *Provider {
	return &Provider{
		issuerURL:  strings.TrimSuffix(issuerURL, "/"),
		static:     static,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient sets a custom HTTP client for discovery requests.
func (p *Provider) WithHTTPClient(client *http.Client) *Provider {
	p.httpClient = client
	return p
}

// Endpoints returns the resolved endpoint set, running discovery if any
// endpoint is missing from the static configuration.
func (p *Provider) Endpoints(ctx context.Context) (Endpoints, error) {
	if p.static.complete() {
		return p.static, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.complete() && time.Now().Before(p.cacheExpiry) {
		return p.cached, nil
	}

	doc, err := p.discover(ctx)
	if err != nil {
		return Endpoints{}, err
	}

	resolved := Endpoints{
		AuthorizeURL: firstNonEmpty(p.static.AuthorizeURL, doc.AuthorizationEndpoint),
		TokenURL:     firstNonEmpty(p.static.TokenURL, doc.TokenEndpoint),
		UserinfoURL:  firstNonEmpty(p.static.UserinfoURL, doc.UserinfoEndpoint),
		LogoutURL:    firstNonEmpty(p.static.LogoutURL, doc.EndSessionEndpoint),
	}
	if !resolved.complete() {
		return Endpoints{}, fmt.Errorf("discovery document for %s is missing required endpoints", p.issuerURL)
	}

	p.cached = resolved
	p.cacheExpiry = time.Now().Add(discoveryCacheTTL)
	return resolved, nil
}

// discover fetches the OpenID Connect discovery document from the issuer.
func (p *Provider) discover(ctx context.Context) (*discoveryDocument, error) {
	if p.issuerURL == "" {
		return nil, fmt.Errorf("no issuer URL configured")
	}

	url := p.issuerURL + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoverySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	return &doc, nil
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
