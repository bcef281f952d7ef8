// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"context"
	"fmt"
	"html"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const callbackShutdownTimeout = 3 * time.Second

// successPage is served after a completed login so the browser tab has
// something to show before the user closes it.
const successPage = `<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h2>Signed in</h2>
<p>You can close this tab and return to the terminal.</p>
</body>
</html>`

const errorPageFormat = `<!DOCTYPE html>
<html>
<head><title>Sign-in failed</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h2>Sign-in failed</h2>
<p>%s</p>
<p>Return to the terminal and run login again to retry.</p>
</body>
</html>`

// CallbackServer is the one-shot loopback listener that receives the
// authorization redirect. It binds before the browser is opened so the
// redirect cannot race the listener, serves exactly one login attempt,
// and then shuts down.
type CallbackServer struct {
	auth      *Authenticator
	ephemeral *EphemeralStore

	addr string
	path string

	ln     net.Listener
	srv    *http.Server
	result chan error
	once   sync.Once
}

// NewCallbackServer creates a callback listener for the given redirect
// URI. The URI's host:port is the bind address and its path is the
// handled route.
func NewCallbackServer(redirectURI string, auth *Authenticator, ephemeral *EphemeralStore) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &CallbackServer{
		auth:      auth,
		ephemeral: ephemeral,
		addr:      u.Host,
		path:      path,
		result:    make(chan error, 1),
	}, nil
}

// Start binds the listener and begins serving. Call Start before
// opening the browser.
func (c *CallbackServer) Start() error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to bind callback listener on %s: %w", c.addr, err)
	}
	c.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc(c.path, c.handleCallback)

	c.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.deliver(fmt.Errorf("callback server error: %w", err))
		}
	}()

	log.Printf("CALLBACK_SERVER | listening=%s path=%s", c.addr, c.path)
	return nil
}

// Addr returns the bound listener address. Valid only after Start; this
// is the real port even when the redirect URI asked for port 0.
func (c *CallbackServer) Addr() string {
	if c.ln == nil {
		return ""
	}
	return c.ln.Addr().String()
}

// Wait blocks until the login attempt completes or the context ends,
// then shuts the listener down. A nil result means the user is now
// authenticated.
func (c *CallbackServer) Wait(ctx context.Context) error {
	defer c.shutdown()

	select {
	case err := <-c.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleCallback processes the provider redirect. Exactly one token
// exchange happens per authorization code: a code already seen skips
// the exchange and reports whatever outcome the first submission
// produced as success.
func (c *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if provErr := q.Get("error"); provErr != "" {
		desc := q.Get("error_description")
		reason := provErr
		if desc != "" {
			reason = provErr + ": " + desc
		}
		err := newAuthError(reason)
		c.renderError(w, reason)
		c.deliver(err)
		return
	}

	code := q.Get("code")
	if code == "" {
		c.renderError(w, ErrNoAuthCode.Reason)
		c.deliver(ErrNoAuthCode)
		return
	}

	// Double submission of the same code (browser refresh, duplicate
	// redirect) must not trigger a second exchange.
	if c.ephemeral.MarkCodeSeen(code) {
		log.Printf("CALLBACK | replayed_code=true")
		c.renderSuccess(w)
		c.deliver(nil)
		return
	}

	if err := c.auth.HandleCallback(r.Context(), code, q.Get("state")); err != nil {
		log.Printf("CALLBACK | err=%v", err)
		c.renderError(w, err.Error())
		c.deliver(err)
		return
	}

	c.renderSuccess(w)
	c.deliver(nil)
}

func (c *CallbackServer) renderSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

func (c *CallbackServer) renderError(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, errorPageFormat, html.EscapeString(reason))
}

// deliver reports the attempt outcome exactly once. Later callbacks on
// the same listener are served a page but do not change the result.
func (c *CallbackServer) deliver(err error) {
	c.once.Do(func() {
		c.result <- err
	})
}

func (c *CallbackServer) shutdown() {
	if c.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()
	if err := c.srv.Shutdown(ctx); err != nil {
		c.srv.Close()
	}
	log.Printf("CALLBACK_SERVER | stopped")
}
