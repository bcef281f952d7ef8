// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation.
//
// Precedence, lowest to highest: built-in defaults, the TOML file at
// ~/.openchat/config.toml, environment variables (OPENCHAT_*). A .env
// file in the working directory is loaded into the environment first.
package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/openchat-tui/internal/util"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultRedirectHost = "127.0.0.1"
	DefaultRedirectPort = 8765
	DefaultCallbackPath = "/callback"
	DefaultModel        = "gpt-4o-mini"
	DefaultDeveloperMsg = "You are a helpful assistant."

	minPort = 1024
	maxPort = 65535
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// OIDCConfig configures the login flow.
type OIDCConfig struct {
	IssuerURL string `toml:"issuer_url"`
	ClientID  string `toml:"client_id"`

	// Static endpoint overrides; anything left empty is discovered from
	// the issuer.
	AuthorizeURL string `toml:"authorize_url"`
	TokenURL     string `toml:"token_url"`
	UserinfoURL  string `toml:"userinfo_url"`
	LogoutURL    string `toml:"logout_url"`

	RedirectHost string   `toml:"redirect_host"`
	RedirectPort int      `toml:"redirect_port"`
	CallbackPath string   `toml:"callback_path"`
	Scopes       []string `toml:"scopes"`
	Journey      string   `toml:"journey"`
}

// BackendConfig configures the chat backend proxy.
type BackendConfig struct {
	BaseURL          string `toml:"base_url"`
	Model            string `toml:"model"`
	APIKey           string `toml:"api_key"`
	DeveloperMessage string `toml:"developer_message"`
}

// UIConfig configures rendering.
type UIConfig struct {
	Markdown bool `toml:"markdown"`
}

// HistoryConfig configures conversation persistence.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config is the complete application configuration.
type Config struct {
	OIDC    OIDCConfig    `toml:"oidc"`
	Backend BackendConfig `toml:"backend"`
	UI      UIConfig      `toml:"ui"`
	History HistoryConfig `toml:"history"`
}

// =============================================================================
// LOADING
// =============================================================================

// Dir returns the application config directory (~/.openchat), creating
// it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".openchat")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OIDC: OIDCConfig{
			RedirectHost: DefaultRedirectHost,
			RedirectPort: DefaultRedirectPort,
			CallbackPath: DefaultCallbackPath,
			Scopes:       []string{"openid", "profile", "email"},
		},
		Backend: BackendConfig{
			BaseURL:          "http://localhost:8000",
			Model:            DefaultModel,
			DeveloperMessage: DefaultDeveloperMsg,
		},
		UI: UIConfig{Markdown: true},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Load reads the configuration from the given path (a missing file is
// not an error), applies environment overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	// A .env in the working directory feeds the environment overrides.
	if err := godotenv.Load(); err == nil {
		log.Printf("CONFIG | dotenv=loaded")
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Printf("CONFIG | file=%s", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from OPENCHAT_* environment variables.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("OPENCHAT_ISSUER_URL", &c.OIDC.IssuerURL)
	setString("OPENCHAT_CLIENT_ID", &c.OIDC.ClientID)
	setString("OPENCHAT_JOURNEY", &c.OIDC.Journey)
	setString("OPENCHAT_BACKEND_URL", &c.Backend.BaseURL)
	setString("OPENCHAT_MODEL", &c.Backend.Model)
	setString("OPENCHAT_API_KEY", &c.Backend.APIKey)
	setString("OPENCHAT_HISTORY_PATH", &c.History.Path)

	if v := os.Getenv("OPENCHAT_REDIRECT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.OIDC.RedirectPort = port
		} else {
			log.Printf("CONFIG | bad_env=OPENCHAT_REDIRECT_PORT value=%q", v)
		}
	}
	if v := os.Getenv("OPENCHAT_SCOPES"); v != "" {
		c.OIDC.Scopes = strings.Fields(v)
	}
}

// Validate checks required fields and clamps out-of-range values.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend.base_url must be an http(s) URL, got %q", c.Backend.BaseURL)
	}

	if c.OIDC.RedirectHost == "" {
		c.OIDC.RedirectHost = DefaultRedirectHost
	}
	if c.OIDC.RedirectPort < minPort || c.OIDC.RedirectPort > maxPort {
		log.Printf("CONFIG | clamped=redirect_port from=%d to=%d", c.OIDC.RedirectPort, DefaultRedirectPort)
		c.OIDC.RedirectPort = DefaultRedirectPort
	}
	if c.OIDC.CallbackPath == "" || !strings.HasPrefix(c.OIDC.CallbackPath, "/") {
		c.OIDC.CallbackPath = DefaultCallbackPath
	}
	if len(c.OIDC.Scopes) == 0 {
		c.OIDC.Scopes = []string{"openid", "profile", "email"}
	}
	if c.Backend.Model == "" {
		c.Backend.Model = DefaultModel
	}
	if c.Backend.DeveloperMessage == "" {
		c.Backend.DeveloperMessage = DefaultDeveloperMsg
	}

	if c.History.Enabled && c.History.Path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.History.Path = filepath.Join(dir, "history.db")
	}
	return nil
}

// RedirectURI returns the loopback callback URL for the login flow.
func (c *Config) RedirectURI() string {
	return fmt.Sprintf("http://%s:%d%s", c.OIDC.RedirectHost, c.OIDC.RedirectPort, c.OIDC.CallbackPath)
}

// LogoutRedirectURI returns the landing URL after provider logout.
func (c *Config) LogoutRedirectURI() string {
	return fmt.Sprintf("http://%s:%d/", c.OIDC.RedirectHost, c.OIDC.RedirectPort)
}

// Save writes the configuration to the given path atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}
