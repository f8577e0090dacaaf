// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age for the discovery endpoint (1 hour).
const DefaultDiscoveryCacheMaxAge = 3600

// buildOAuthMetadata constructs the OAuth 2.0 Authorization Server Metadata (RFC 8414).
func (h *Handler) buildOAuthMetadata() oauth.AuthorizationServerMetadata {
	cfg := h.svc.Config()
	issuer := cfg.Issuer
	authMethods := []string{
		oauth.TokenEndpointAuthMethodNone,
		oauth.TokenEndpointAuthMethodClientSecretBasic,
		oauth.TokenEndpointAuthMethodClientSecretPost,
	}

	return oauth.AuthorizationServerMetadata{
		// REQUIRED
		Issuer: issuer,

		AuthorizationEndpoint:  issuer + "/oauth/authorize",
		TokenEndpoint:          issuer + "/oauth/token",
		RevocationEndpoint:     issuer + "/oauth/revoke",
		RegistrationEndpoint:   issuer + "/oauth/register",
		ScopesSupported:        cfg.SupportedScopes(),
		ResponseTypesSupported: []string{oauth.ResponseTypeCode},

		GrantTypesSupported: []string{
			oauth.GrantTypeAuthorizationCode,
			oauth.GrantTypeRefreshToken,
		},
		CodeChallengeMethodsSupported:          []string{oauth.PKCEMethodS256, oauth.PKCEMethodPlain},
		TokenEndpointAuthMethodsSupported:      authMethods,
		RevocationEndpointAuthMethodsSupported: authMethods,
	}
}

// OAuthDiscoveryHandler handles GET /.well-known/oauth-authorization-server requests.
// It returns the OAuth 2.0 Authorization Server Metadata per RFC 8414.
func (h *Handler) OAuthDiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(h.buildOAuthMetadata())
	if err != nil {
		logger.Errorw("failed to encode OAuth AS metadata",
			"error", err.Error(),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
