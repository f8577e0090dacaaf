// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements an embedded OAuth 2.0 authorization server for
// third-party clients, such as AI assistant integrations, that act on behalf
// of a signed-in user.
//
// The server supports:
//   - Authorization Code grant with optional PKCE (RFC 6749, RFC 7636)
//   - Refresh token rotation on every use
//   - Authorization code replay detection, which revokes the refresh tokens
//     of the affected user and client
//   - Static and Dynamic Client Registration (RFC 7591)
//   - Token revocation (RFC 7009)
//   - HS256 access tokens validated locally by resource APIs
//
// # Usage
//
// Service holds every operation. It needs a storage backend and a way to
// look up users:
//
//	stor := storage.NewMemoryStorage()
//	users, _ := identity.LoadDirectory("users.yaml")
//	svc, err := authserver.New(cfg, stor, users)
//	if err != nil {
//	    return err
//	}
//	if err := svc.EnsureStaticClients(ctx); err != nil {
//	    return err
//	}
//
// The HTTP endpoints live in the server/handlers subpackage.
//
// # Subpackages
//
//   - identity: the authenticated user and user lookup
//   - storage: memory, Redis and SQLite persistence
//   - tokens: opaque secrets and signed access tokens
//   - server/crypto: PKCE
//   - server/registration: RFC 7591 request validation
//   - server/handlers: chi routes for the OAuth endpoints
package authserver
