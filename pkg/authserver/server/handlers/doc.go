// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides HTTP handlers for the OAuth 2.0 authorization server endpoints.
//
// This package implements the HTTP layer for the authorization server, including:
//   - Authorization endpoint with consent page (/oauth/authorize)
//   - Token and revocation endpoints (/oauth/token, /oauth/revoke)
//   - Dynamic client registration (/oauth/register)
//   - Authorized clients listing and disconnect (/oauth/authorizations)
//   - Authorization server metadata (/.well-known/oauth-authorization-server)
//
// BearerMiddleware protects resource APIs with the access tokens issued here.
package handlers
