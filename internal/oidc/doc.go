// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package oidc implements the OpenID Connect authorization-code-with-PKCE
// login flow for a public (secretless) client.
//
// The flow follows RFC 8252 for native applications: Login opens the
// provider's /authorize URL in the system browser, a loopback HTTP
// listener (CallbackServer) receives the redirect carrying the
// authorization code, and the Authenticator exchanges the code for tokens
// at the /token endpoint using the PKCE verifier generated at login time.
//
// Components:
//   - PKCE helpers: GenerateState, GenerateCodeVerifier, GenerateCodeChallenge
//   - Provider: endpoint set, optionally filled by OIDC discovery with caching
//   - TokenStore: durable persistence of the Session (tokens + user profile)
//   - EphemeralStore: process-scoped pending-login state and code replay guards
//   - Authenticator: the login/callback/refresh/logout state machine
//   - CallbackServer: one-shot loopback listener for the redirect
package oidc
