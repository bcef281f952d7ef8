// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestProviderStaticEndpoints(t *testing.T) {
	static := Endpoints{
		AuthorizeURL: "https://idp.example.com/authorize",
		TokenURL:     "https://idp.example.com/token",
		UserinfoURL:  "https://idp.example.com/userinfo",
		LogoutURL:    "https://idp.example.com/logout",
	}
	p := NewProvider("https://idp.example.com", static)

	got, err := p.Endpoints(context.Background())
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if got != static {
		t.Errorf("Endpoints = %+v, want %+v", got, static)
	}
}

func TestProviderDiscovery(t *testing.T) {
	var calls atomic.Int64
	var issuer string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"userinfo_endpoint":      issuer + "/userinfo",
			"end_session_endpoint":   issuer + "/logout",
		})
	}))
	defer server.Close()
	issuer = server.URL

	p := NewProvider(server.URL, Endpoints{})

	got, err := p.Endpoints(context.Background())
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if got.TokenURL != issuer+"/token" {
		t.Errorf("TokenURL = %q, want %q", got.TokenURL, issuer+"/token")
	}
	if got.LogoutURL != issuer+"/logout" {
		t.Errorf("LogoutURL = %q, want %q", got.LogoutURL, issuer+"/logout")
	}

	// A second call inside the cache window does not refetch.
	if _, err := p.Endpoints(context.Background()); err != nil {
		t.Fatalf("Endpoints (cached): %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("discovery fetched %d times, want 1", n)
	}
}

func TestProviderDiscoveryStaticOverride(t *testing.T) {
	var issuer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint": issuer + "/authorize",
			"token_endpoint":         issuer + "/token",
			"userinfo_endpoint":      issuer + "/userinfo",
			"end_session_endpoint":   issuer + "/logout",
		})
	}))
	defer server.Close()
	issuer = server.URL

	// Static token URL wins over the discovered one.
	p := NewProvider(server.URL, Endpoints{TokenURL: "https://override.example.com/token"})

	got, err := p.Endpoints(context.Background())
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	if got.TokenURL != "https://override.example.com/token" {
		t.Errorf("TokenURL = %q, want static override", got.TokenURL)
	}
	if got.AuthorizeURL != issuer+"/authorize" {
		t.Errorf("AuthorizeURL = %q, want discovered value", got.AuthorizeURL)
	}
}

func TestProviderDiscoveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewProvider(server.URL, Endpoints{})
	if _, err := p.Endpoints(context.Background()); err == nil {
		t.Fatal("expected discovery error")
	}
}
