// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// STATES
// =============================================================================

// State is the authentication lifecycle state.
type State string

const (
	// StateAnonymous means no valid session is held.
	StateAnonymous State = "anonymous"

	// StateAuthenticating means a login attempt is in flight: the browser
	// has been opened and the callback has not completed yet.
	StateAuthenticating State = "authenticating"

	// StateAuthenticated means a session with an access token and user
	// profile is held.
	StateAuthenticated State = "authenticated"

	// StateLoggingOut means local state is being cleared ahead of the
	// provider logout redirect.
	StateLoggingOut State = "logging-out"
)

// Snapshot is an immutable view of the authentication state handed to
// subscribers on every transition.
type Snapshot struct {
	State        State
	User         *UserProfile
	AccessToken  string
	RefreshToken string
}

// IsAuthenticated reports whether the snapshot carries a signed-in user.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.AccessToken != "" && s.User != nil && s.User.Subject != ""
}

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the client registration and flow settings for the
// Authenticator.
type Config struct {
	// ClientID is the OIDC public client identifier.
	ClientID string

	// RedirectURI is the loopback callback URL registered with the
	// provider (e.g. http://127.0.0.1:8765/callback).
	RedirectURI string

	// Scopes requested at login. Defaults to "openid profile email".
	Scopes []string

	// Journey is an optional provider-specific query parameter appended
	// to the authorize URL. Empty means omit it.
	Journey string

	// LogoutRedirectURI is the post_logout_redirect_uri sent to the
	// provider's end-session endpoint.
	LogoutRedirectURI string

	// BrowserOpener opens a URL in the system browser. Injected so tests
	// can capture the URL instead of launching anything.
	BrowserOpener func(url string) error

	// LogoutDelay is how long to wait between clearing local state and
	// opening the provider logout URL. Gives subscribers time to render
	// the signed-out state.
	LogoutDelay time.Duration
}

func (c *Config) scopeString() string {
	if len(c.Scopes) == 0 {
		return "openid profile email"
	}
	return strings.Join(c.Scopes, " ")
}

// tokenResponse is the /token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// =============================================================================
// AUTHENTICATOR
// =============================================================================

// Authenticator drives the authorization-code-with-PKCE flow and owns
// the session. All mutation goes through its operations; observers get
// snapshots via Subscribe. Constructed explicitly and injected wherever
// needed, never a package singleton.
type Authenticator struct {
	mu sync.Mutex

	cfg        Config
	provider   *Provider
	store      TokenStore
	ephemeral  *EphemeralStore
	httpClient *http.Client

	session *Session
	state   State

	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// NewAuthenticator creates an Authenticator. The initial state is
// derived from the token store: a persisted authenticated session
// resumes as authenticated, anything else starts anonymous.
func NewAuthenticator(cfg Config, provider *Provider, store TokenStore, ephemeral *EphemeralStore) (*Authenticator, error) {
	a := &Authenticator{
		cfg:         cfg,
		provider:    provider,
		store:       store,
		ephemeral:   ephemeral,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		state:       StateAnonymous,
		subscribers: make(map[int]func(Snapshot)),
	}

	sess, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.IsAuthenticated() {
		a.session = sess
		a.state = StateAuthenticated
		log.Printf("AUTH_STATE | state=%s user=%s source=store", a.state, sess.User.Subject)
	}

	return a, nil
}

// WithHTTPClient sets a custom HTTP client for token and userinfo
// requests.
func (a *Authenticator) WithHTTPClient(client *http.Client) *Authenticator {
	a.httpClient = client
	return a
}

// Snapshot returns the current state and user profile.
func (a *Authenticator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Authenticator) snapshotLocked() Snapshot {
	snap := Snapshot{State: a.state}
	if a.session != nil {
		snap.AccessToken = a.session.AccessToken
		snap.RefreshToken = a.session.RefreshToken
		if a.session.User != nil {
			copied := *a.session.User
			snap.User = &copied
		}
	}
	return snap
}

// Subscribe registers a listener called with a snapshot on every state
// transition. The returned function removes the listener. No ordering
// is guaranteed across subscribers.
func (a *Authenticator) Subscribe(fn func(Snapshot)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

// notify snapshots the subscriber set and state under the lock, then
// invokes listeners outside it so a subscriber can call back into the
// Authenticator without deadlocking.
func (a *Authenticator) notify() {
	a.mu.Lock()
	snap := a.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (a *Authenticator) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	log.Printf("AUTH_STATE | state=%s", s)
	a.notify()
}

// =============================================================================
// LOGIN
// =============================================================================

// Login starts a new login attempt: it generates a fresh PKCE verifier
// and state token, records them as the pending request (replacing any
// previous attempt), and opens the provider's authorize URL in the
// system browser. The flow completes when the callback listener passes
// the redirect to HandleCallback.
func (a *Authenticator) Login(ctx context.Context) error {
	endpoints, err := a.provider.Endpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve provider endpoints: %w", err)
	}

	state, err := GenerateState()
	if err != nil {
		return err
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return err
	}

	a.ephemeral.SetPending(PendingAuthRequest{Verifier: verifier, State: state})

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURI)
	q.Set("scope", a.cfg.scopeString())
	q.Set("state", state)
	q.Set("code_challenge", GenerateCodeChallenge(verifier))
	q.Set("code_challenge_method", "S256")
	if a.cfg.Journey != "" {
		q.Set("journey", a.cfg.Journey)
	}
	authorizeURL := endpoints.AuthorizeURL + "?" + q.Encode()

	a.setState(StateAuthenticating)
	log.Printf("AUTH_LOGIN | authorize_url=%s", endpoints.AuthorizeURL)

	// If the browser never opens there is no navigation to wait on, so
	// the machine falls back to its resting state instead of showing an
	// attempt that cannot complete.
	if a.cfg.BrowserOpener == nil {
		a.setState(a.restingState())
		return fmt.Errorf("no browser opener configured")
	}
	if err := a.cfg.BrowserOpener(authorizeURL); err != nil {
		a.setState(a.restingState())
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

// restingState is the state with no login attempt in progress, derived
// from whether a usable session is held.
func (a *Authenticator) restingState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session.IsAuthenticated() {
		return StateAuthenticated
	}
	return StateAnonymous
}

// =============================================================================
// CALLBACK
// =============================================================================

// HandleCallback completes a login attempt with the authorization code
// and state from the provider redirect. It validates the state against
// the pending request, exchanges the code for tokens, fetches the user
// profile, persists the session, and transitions to authenticated.
//
// On token exchange failure the pending request is kept: only a
// successful exchange or a fresh Login replaces it. Code replay
// protection is the callback listener's job, not this method's.
func (a *Authenticator) HandleCallback(ctx context.Context, code, state string) error {
	pending := a.ephemeral.Pending()
	if pending == nil || pending.Verifier == "" {
		return ErrMissingVerifier
	}
	if state != pending.State {
		return ErrInvalidState
	}

	endpoints, err := a.provider.Endpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve provider endpoints: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.cfg.RedirectURI)
	form.Set("client_id", a.cfg.ClientID)
	form.Set("code_verifier", pending.Verifier)

	tokens, err := a.postTokenForm(ctx, endpoints.TokenURL, form, "token exchange failed")
	if err != nil {
		return err
	}

	a.ephemeral.ClearPending()

	user, err := a.fetchUserinfo(ctx, endpoints.UserinfoURL, tokens.AccessToken)
	if err != nil {
		return err
	}

	sess := &Session{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		User:         user,
	}
	if err := a.store.Save(sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	a.mu.Lock()
	a.session = sess
	a.state = StateAuthenticated
	a.mu.Unlock()

	log.Printf("AUTH_STATE | state=%s user=%s", StateAuthenticated, user.Subject)
	a.notify()
	return nil
}

// postTokenForm sends a form-encoded POST to the token endpoint and
// decodes the token response.
func (a *Authenticator) postTokenForm(ctx context.Context, tokenURL string, form url.Values, failPrefix string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, newAuthError(fmt.Sprintf("%s: %v", failPrefix, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, newAuthError(fmt.Sprintf("%s: %d", failPrefix, resp.StatusCode))
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, newAuthError(fmt.Sprintf("%s: bad response body", failPrefix))
	}
	if tokens.AccessToken == "" {
		return nil, newAuthError(fmt.Sprintf("%s: no access token in response", failPrefix))
	}
	return &tokens, nil
}

// fetchUserinfo retrieves the user profile with a Bearer token.
func (a *Authenticator) fetchUserinfo(ctx context.Context, userinfoURL, accessToken string) (*UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, newAuthError(fmt.Sprintf("userinfo failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAuthError(fmt.Sprintf("userinfo failed: %d", resp.StatusCode))
	}

	var user UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, newAuthError("userinfo failed: bad response body")
	}
	return &user, nil
}

// =============================================================================
// REFRESH
// =============================================================================

// RefreshAccessToken exchanges the stored refresh token for a new access
// token. Returns (false, nil) without touching the session when no
// refresh token is held or the provider rejects the grant; the caller
// decides whether to force a fresh login. Returns (true, nil) after the
// session has been updated and persisted.
func (a *Authenticator) RefreshAccessToken(ctx context.Context) (bool, error) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	if sess == nil || sess.RefreshToken == "" {
		return false, nil
	}

	endpoints, err := a.provider.Endpoints(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to resolve provider endpoints: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", sess.RefreshToken)
	form.Set("client_id", a.cfg.ClientID)

	tokens, err := a.postTokenForm(ctx, endpoints.TokenURL, form, "token refresh failed")
	if err != nil {
		// A rejected refresh leaves the session untouched.
		log.Printf("AUTH_REFRESH | ok=false err=%v", err)
		return false, nil
	}

	// A refresh replaces the access token and, when the provider reissues
	// one, the refresh token. The ID token from the original login stays.
	a.mu.Lock()
	a.session.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		a.session.RefreshToken = tokens.RefreshToken
	}
	updated := *a.session
	a.mu.Unlock()

	if err := a.store.Save(&updated); err != nil {
		return false, fmt.Errorf("failed to persist refreshed session: %w", err)
	}

	log.Printf("AUTH_REFRESH | ok=true")
	a.notify()
	return true, nil
}

// =============================================================================
// LOGOUT
// =============================================================================

// Logout clears the session and notifies subscribers, then opens the
// provider's end-session URL in the browser. Local state is cleared
// before the navigation so the app renders signed-out regardless of
// what the provider does with the redirect.
func (a *Authenticator) Logout(ctx context.Context) error {
	a.setState(StateLoggingOut)

	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()

	// Build the logout URL before clearing anything; it needs the tokens.
	var logoutURL string
	endpoints, err := a.provider.Endpoints(ctx)
	if err == nil && endpoints.LogoutURL != "" {
		q := url.Values{}
		if a.cfg.LogoutRedirectURI != "" {
			q.Set("post_logout_redirect_uri", a.cfg.LogoutRedirectURI)
		}
		q.Set("client_id", a.cfg.ClientID)
		if sess != nil {
			if sess.IDToken != "" {
				q.Set("id_token_hint", sess.IDToken)
			} else if sess.AccessToken != "" {
				q.Set("id_token_hint", sess.AccessToken)
			}
		}
		logoutURL = endpoints.LogoutURL + "?" + q.Encode()
	}

	if err := a.store.Clear(); err != nil {
		log.Printf("AUTH_LOGOUT | clear_store_err=%v", err)
	}
	a.ephemeral.Clear()

	a.mu.Lock()
	a.session = nil
	a.state = StateAnonymous
	a.mu.Unlock()

	log.Printf("AUTH_STATE | state=%s", StateAnonymous)
	a.notify()

	// The provider-side logout happens unconditionally after local state
	// is gone.
	if logoutURL != "" && a.cfg.BrowserOpener != nil {
		if a.cfg.LogoutDelay > 0 {
			select {
			case <-time.After(a.cfg.LogoutDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := a.cfg.BrowserOpener(logoutURL); err != nil {
			return fmt.Errorf("failed to open logout page: %w", err)
		}
	}
	return nil
}

// Ephemeral returns the process-scoped auth state store, shared with
// the callback listener.
func (a *Authenticator) Ephemeral() *EphemeralStore {
	return a.ephemeral
}

// AccessToken returns the current access token, or "" when anonymous.
func (a *Authenticator) AccessToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return ""
	}
	return a.session.AccessToken
}
