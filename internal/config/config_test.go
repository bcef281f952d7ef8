// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OIDC.RedirectPort != DefaultRedirectPort {
		t.Errorf("redirect port = %d", cfg.OIDC.RedirectPort)
	}
	if cfg.Backend.Model != DefaultModel {
		t.Errorf("model = %q", cfg.Backend.Model)
	}
	if !cfg.UI.Markdown {
		t.Error("markdown should default to on")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, `
[oidc]
issuer_url = "https://idp.example.com"
client_id = "chat-client"
redirect_port = 9001
journey = "login"

[backend]
base_url = "https://chat.example.com"
model = "gpt-4o"

[history]
enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OIDC.ClientID != "chat-client" {
		t.Errorf("client_id = %q", cfg.OIDC.ClientID)
	}
	if cfg.OIDC.RedirectPort != 9001 {
		t.Errorf("redirect_port = %d", cfg.OIDC.RedirectPort)
	}
	if cfg.Backend.BaseURL != "https://chat.example.com" {
		t.Errorf("base_url = %q", cfg.Backend.BaseURL)
	}
	if cfg.History.Enabled {
		t.Error("history should be disabled")
	}
	if got := cfg.RedirectURI(); got != "http://127.0.0.1:9001/callback" {
		t.Errorf("RedirectURI = %q", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = "https://from-file.example.com"
model = "file-model"
`)
	t.Setenv("OPENCHAT_BACKEND_URL", "https://from-env.example.com")
	t.Setenv("OPENCHAT_MODEL", "env-model")
	t.Setenv("OPENCHAT_REDIRECT_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "https://from-env.example.com" {
		t.Errorf("base_url = %q, env must win", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Model != "env-model" {
		t.Errorf("model = %q", cfg.Backend.Model)
	}
	if cfg.OIDC.RedirectPort != 9100 {
		t.Errorf("redirect_port = %d", cfg.OIDC.RedirectPort)
	}
}

func TestValidateClampsBadPort(t *testing.T) {
	cfg := Default()
	cfg.OIDC.RedirectPort = 80
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.OIDC.RedirectPort != DefaultRedirectPort {
		t.Errorf("port = %d, want clamped to %d", cfg.OIDC.RedirectPort, DefaultRedirectPort)
	}
}

func TestValidateRejectsBadBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Backend.BaseURL = "ftp://nope"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-http base URL")
	}

	cfg.Backend.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestValidateFillsCallbackPath(t *testing.T) {
	cfg := Default()
	cfg.OIDC.CallbackPath = "no-leading-slash"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.OIDC.CallbackPath != DefaultCallbackPath {
		t.Errorf("callback path = %q", cfg.OIDC.CallbackPath)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.OIDC.ClientID = "saved-client"
	cfg.Backend.Model = "saved-model"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.OIDC.ClientID != "saved-client" || loaded.Backend.Model != "saved-model" {
		t.Errorf("round-trip mismatch: %+v", loaded)
	}
}
