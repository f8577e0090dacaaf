// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registration provides OAuth 2.0 Dynamic Client Registration (DCR)
// request validation per RFC 7591, including the redirect URI policy applied
// to clients that register themselves.
package registration

import (
	"net"
	"slices"
	"strings"

	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// DCR error codes per RFC 7591 Section 3.2.2
const (
	// DCRErrorInvalidRedirectURI indicates that the value of one or more
	// redirect_uris is invalid.
	DCRErrorInvalidRedirectURI = "invalid_redirect_uri"

	// DCRErrorInvalidClientMetadata indicates that the value of one of the
	// client metadata fields is invalid and the server has rejected this request.
	DCRErrorInvalidClientMetadata = "invalid_client_metadata"
)

// Validation limits to prevent DoS attacks via excessively large requests.
const (
	// MaxRedirectURICount is the maximum number of redirect URIs allowed per client.
	MaxRedirectURICount = 10

	// MaxClientNameLength is the maximum allowed length for a client name.
	MaxClientNameLength = 256

	// MaxRedirectURILength is the maximum allowed length of a single redirect URI.
	MaxRedirectURILength = 2048
)

// DCRRequest represents an OAuth 2.0 Dynamic Client Registration request
// per RFC 7591 Section 2.
type DCRRequest struct {
	// RedirectURIs is an array of redirection URIs for the client. A single
	// "*" wildcard is accepted as long as the host stays fixed.
	RedirectURIs []string `json:"redirect_uris"`

	// ClientName is a human-readable name for the client.
	ClientName string `json:"client_name,omitempty"`

	// TokenEndpointAuthMethod is the requested authentication method for the
	// token endpoint. Anything other than "none" registers a confidential client.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// GrantTypes defaults to ["authorization_code", "refresh_token"].
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes defaults to ["code"].
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is a space-delimited list of scopes the client may request.
	Scope string `json:"scope,omitempty"`
}

// Confidential reports whether the request registers a client that
// authenticates with a secret.
func (r *DCRRequest) Confidential() bool {
	return r.TokenEndpointAuthMethod != "" && r.TokenEndpointAuthMethod != oauth.TokenEndpointAuthMethodNone
}

// DCRResponse represents a successful OAuth 2.0 Dynamic Client Registration
// response per RFC 7591 Section 3.2.1.
type DCRResponse struct {
	ClientID         string `json:"client_id"`
	ClientIDIssuedAt int64  `json:"client_id_issued_at,omitempty"`

	// ClientSecret is only present for confidential clients and is never
	// returned again.
	ClientSecret string `json:"client_secret,omitempty"`

	// ClientSecretExpiresAt is required when a secret is issued; 0 means it
	// does not expire.
	ClientSecretExpiresAt *int64 `json:"client_secret_expires_at,omitempty"`

	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
}

// DCRError represents an OAuth 2.0 Dynamic Client Registration error
// response per RFC 7591 Section 3.2.2.
type DCRError struct {
	// Error is a single ASCII error code from the defined set.
	Error string `json:"error"`

	// ErrorDescription is a human-readable text providing additional information.
	ErrorDescription string `json:"error_description,omitempty"`
}

var defaultGrantTypes = []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken}

var allowedGrantTypes = map[string]bool{
	oauth.GrantTypeAuthorizationCode: true,
	oauth.GrantTypeRefreshToken:      true,
}

var defaultResponseTypes = []string{oauth.ResponseTypeCode}

var allowedResponseTypes = map[string]bool{
	oauth.ResponseTypeCode: true,
}

var allowedAuthMethods = map[string]bool{
	oauth.TokenEndpointAuthMethodNone:              true,
	oauth.TokenEndpointAuthMethodClientSecretPost:  true,
	oauth.TokenEndpointAuthMethodClientSecretBasic: true,
}

// forbiddenSchemes can execute or read local content in a user agent.
var forbiddenSchemes = map[string]bool{
	"javascript": true,
	"data":       true,
	"file":       true,
	"vbscript":   true,
}

// ValidateDCRRequest validates a DCR request according to RFC 7591 and the
// server's redirect URI policy. Returns the validated request with defaults
// applied, or an error. Scope is passed through untouched; see ValidateScopes.
func ValidateDCRRequest(req *DCRRequest) (*DCRRequest, *DCRError) {
	if len(req.RedirectURIs) == 0 {
		return nil, &DCRError{
			Error:            DCRErrorInvalidRedirectURI,
			ErrorDescription: "redirect_uris is required",
		}
	}

	if len(req.RedirectURIs) > MaxRedirectURICount {
		return nil, &DCRError{
			Error:            DCRErrorInvalidRedirectURI,
			ErrorDescription: "too many redirect_uris (maximum 10)",
		}
	}

	for _, uri := range req.RedirectURIs {
		if err := ValidateRedirectURI(uri); err != nil {
			return nil, err
		}
	}

	if len(req.ClientName) > MaxClientNameLength {
		return nil, &DCRError{
			Error:            DCRErrorInvalidClientMetadata,
			ErrorDescription: "client_name too long (maximum 256 characters)",
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = oauth.TokenEndpointAuthMethodNone
	}
	if !allowedAuthMethods[authMethod] {
		return nil, &DCRError{
			Error:            DCRErrorInvalidClientMetadata,
			ErrorDescription: "unsupported token_endpoint_auth_method: " + authMethod,
		}
	}

	grantTypes, err := validateGrantTypes(req.GrantTypes)
	if err != nil {
		return nil, err
	}

	responseTypes, err := validateResponseTypes(req.ResponseTypes)
	if err != nil {
		return nil, err
	}

	return &DCRRequest{
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
	}, nil
}

func validateGrantTypes(grantTypes []string) ([]string, *DCRError) {
	if len(grantTypes) == 0 {
		grantTypes = defaultGrantTypes
	}
	// A refresh_token-only registration would pass the allowlist but could
	// never obtain a first token.
	if !slices.Contains(grantTypes, oauth.GrantTypeAuthorizationCode) {
		return nil, &DCRError{
			Error:            DCRErrorInvalidClientMetadata,
			ErrorDescription: "grant_types must include 'authorization_code'",
		}
	}
	for _, gt := range grantTypes {
		if !allowedGrantTypes[gt] {
			return nil, &DCRError{
				Error:            DCRErrorInvalidClientMetadata,
				ErrorDescription: "unsupported grant_type: " + gt,
			}
		}
	}
	return grantTypes, nil
}

func validateResponseTypes(responseTypes []string) ([]string, *DCRError) {
	if len(responseTypes) == 0 {
		responseTypes = defaultResponseTypes
	}
	if !slices.Contains(responseTypes, oauth.ResponseTypeCode) {
		return nil, &DCRError{
			Error:            DCRErrorInvalidClientMetadata,
			ErrorDescription: "response_types must include 'code'",
		}
	}
	for _, rt := range responseTypes {
		if !allowedResponseTypes[rt] {
			return nil, &DCRError{
				Error:            DCRErrorInvalidClientMetadata,
				ErrorDescription: "unsupported response_type: " + rt,
			}
		}
	}
	return responseTypes, nil
}

// ValidateRedirectURI checks a redirect URI offered at registration:
//   - it must parse as a redirect pattern (absolute, no fragment, one wildcard at most)
//   - http is only allowed for loopback hosts (127.0.0.1, [::1], localhost)
//   - a wildcard must leave the host fixed
//   - schemes that execute content in the user agent are rejected
func ValidateRedirectURI(uri string) *DCRError {
	if len(uri) > MaxRedirectURILength {
		return invalidRedirect("redirect URI too long")
	}

	pattern, err := oauth.ParseRedirectPattern(uri)
	if err != nil {
		return invalidRedirect(err.Error())
	}

	scheme := pattern.Scheme()
	if forbiddenSchemes[scheme] {
		return invalidRedirect("redirect URI scheme not allowed: " + scheme)
	}

	if scheme == "http" && !isLoopbackHost(pattern.Hostname()) {
		return invalidRedirect("http redirect URIs are only allowed for loopback hosts")
	}
	return nil
}

// ValidateScopes resolves the scope a dynamically registered client may use.
// An empty request yields defaults; otherwise every requested scope must be
// supported by the server.
func ValidateScopes(requested string, supported, defaults []string) ([]string, *DCRError) {
	scopes := oauth.ParseScope(requested)
	if len(scopes) == 0 {
		return slices.Clone(defaults), nil
	}
	for _, s := range scopes {
		if !slices.Contains(supported, s) {
			return nil, &DCRError{
				Error:            DCRErrorInvalidClientMetadata,
				ErrorDescription: "unsupported scope: " + s,
			}
		}
	}
	return scopes, nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func invalidRedirect(desc string) *DCRError {
	return &DCRError{Error: DCRErrorInvalidRedirectURI, ErrorDescription: desc}
}
