// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oidc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCallbackServer(t *testing.T, idp *fakeIDP) (*CallbackServer, *Authenticator, *EphemeralStore) {
	t.Helper()
	auth, eph, _, _ := newTestAuth(t, idp)
	cs, err := NewCallbackServer("http://127.0.0.1:8765/callback", auth, eph)
	require.NoError(t, err)
	return cs, auth, eph
}

func TestCallbackSameCodeExchangedOnce(t *testing.T) {
	idp := newFakeIDP(t)
	cs, auth, eph := newTestCallbackServer(t, idp)

	require.NoError(t, auth.Login(context.Background()))
	pending := eph.Pending()

	target := "/callback?code=code-1&state=" + url.QueryEscape(pending.State)

	rec1 := httptest.NewRecorder()
	cs.handleCallback(rec1, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusOK, rec1.Code)

	// The browser resubmits the same redirect.
	rec2 := httptest.NewRecorder()
	cs.handleCallback(rec2, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusOK, rec2.Code)

	assert.Equal(t, int64(1), idp.tokenCalls.Load(), "one token exchange per code")
	assert.Equal(t, StateAuthenticated, auth.Snapshot().State)
}

func TestCallbackProviderError(t *testing.T) {
	idp := newFakeIDP(t)
	cs, _, _ := newTestCallbackServer(t, idp)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied&error_description=user+cancelled", nil)
	cs.handleCallback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")

	err := cs.Wait(context.Background())
	require.Error(t, err)
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Reason, "access_denied")
	assert.Equal(t, int64(0), idp.tokenCalls.Load())
}

func TestCallbackMissingCode(t *testing.T) {
	idp := newFakeIDP(t)
	cs, _, _ := newTestCallbackServer(t, idp)

	rec := httptest.NewRecorder()
	cs.handleCallback(rec, httptest.NewRequest(http.MethodGet, "/callback?state=whatever", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	err := cs.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrNoAuthCode))
}

func TestCallbackDeliversFirstOutcomeOnly(t *testing.T) {
	idp := newFakeIDP(t)
	cs, _, _ := newTestCallbackServer(t, idp)

	rec := httptest.NewRecorder()
	cs.handleCallback(rec, httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil))

	// A later hit with a different failure must not override the result.
	rec2 := httptest.NewRecorder()
	cs.handleCallback(rec2, httptest.NewRequest(http.MethodGet, "/callback", nil))

	err := cs.Wait(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "access_denied", authErr.Reason)
}

func TestCallbackEndToEnd(t *testing.T) {
	idp := newFakeIDP(t)
	auth, eph, _, _ := newTestAuth(t, idp)

	// Port 0 binds an ephemeral port; Addr reports the real one.
	cs, err := NewCallbackServer("http://127.0.0.1:0/callback", auth, eph)
	require.NoError(t, err)
	require.NoError(t, cs.Start())

	require.NoError(t, auth.Login(context.Background()))
	pending := eph.Pending()

	resp, err := http.Get(fmt.Sprintf("http://%s/callback?code=code-e2e&state=%s",
		cs.Addr(), url.QueryEscape(pending.State)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "Signed in"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cs.Wait(ctx))
	assert.Equal(t, StateAuthenticated, auth.Snapshot().State)
}
