// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

// Response types per RFC 6749 Section 3.1.1.
const (
	// ResponseTypeCode is the authorization code response type.
	ResponseTypeCode = "code"
)

// Grant types per RFC 6749.
const (
	// GrantTypeAuthorizationCode is the authorization code grant (Section 4.1).
	GrantTypeAuthorizationCode = "authorization_code"

	// GrantTypeRefreshToken is the refresh token grant (Section 6).
	GrantTypeRefreshToken = "refresh_token"
)

// Token endpoint authentication methods per RFC 7591 Section 2.
const (
	// TokenEndpointAuthMethodNone is used by public clients that hold no secret.
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodClientSecretPost sends the secret in the request body.
	TokenEndpointAuthMethodClientSecretPost = "client_secret_post"

	// TokenEndpointAuthMethodClientSecretBasic sends the secret using HTTP Basic.
	TokenEndpointAuthMethodClientSecretBasic = "client_secret_basic"
)

// PKCE code challenge methods per RFC 7636 Section 4.2.
const (
	// PKCEMethodPlain compares the verifier with the challenge directly.
	PKCEMethodPlain = "plain"

	// PKCEMethodS256 compares BASE64URL(SHA256(verifier)) with the challenge.
	PKCEMethodS256 = "S256"
)

// TokenTypeBearer is the token_type returned from the token endpoint (RFC 6750).
const TokenTypeBearer = "Bearer"

// Token type hints for the revocation endpoint per RFC 7009 Section 2.1.
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)
