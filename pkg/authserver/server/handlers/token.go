// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"net/url"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// TokenHandler handles POST /oauth/token requests for the authorization_code
// and refresh_token grants.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	form, creds, err := parseClientForm(w, req)
	if err != nil {
		writeClientError(w, req, err)
		return
	}

	var resp *authserver.TokenResponse
	switch grantType := form.Get("grant_type"); grantType {
	case oauth.GrantTypeAuthorizationCode:
		resp, err = h.svc.ExchangeCode(ctx, authserver.CodeExchangeRequest{
			Code:         form.Get("code"),
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURI:  form.Get("redirect_uri"),
			CodeVerifier: form.Get("code_verifier"),
		})
	case oauth.GrantTypeRefreshToken:
		resp, err = h.svc.Refresh(ctx, authserver.RefreshRequest{
			RefreshToken: form.Get("refresh_token"),
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Scope:        form.Get("scope"),
		})
	case "":
		err = authserver.NewError(authserver.ErrInvalidRequest, "grant_type is required")
	default:
		err = authserver.NewError(authserver.ErrUnsupportedGrantType, "")
	}
	if err != nil {
		writeClientError(w, req, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// RevokeHandler handles POST /oauth/revoke requests (RFC 7009). It answers
// 200 for any token once the client is authenticated.
func (h *Handler) RevokeHandler(w http.ResponseWriter, req *http.Request) {
	form, creds, err := parseClientForm(w, req)
	if err != nil {
		writeClientError(w, req, err)
		return
	}

	err = h.svc.RevokeToken(req.Context(), authserver.RevocationRequest{
		Token:         form.Get("token"),
		TokenTypeHint: form.Get("token_type_hint"),
		ClientID:      creds.ClientID,
		ClientSecret:  creds.ClientSecret,
	})
	if err != nil {
		writeClientError(w, req, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// parseClientForm parses the urlencoded body and extracts client credentials
// from HTTP Basic authentication or the form (RFC 6749 Section 2.3.1).
func parseClientForm(w http.ResponseWriter, req *http.Request) (url.Values, authserver.ClientCredentials, error) {
	var creds authserver.ClientCredentials

	req.Body = http.MaxBytesReader(w, req.Body, maxFormBodySize)
	if err := req.ParseForm(); err != nil {
		return nil, creds, authserver.NewError(authserver.ErrInvalidRequest, "malformed form body")
	}
	form := req.PostForm

	if user, pass, ok := req.BasicAuth(); ok {
		if form.Get("client_secret") != "" {
			return nil, creds, authserver.NewError(authserver.ErrInvalidRequest,
				"client credentials must use a single authentication method")
		}
		id, idErr := url.QueryUnescape(user)
		secret, secretErr := url.QueryUnescape(pass)
		if idErr != nil || secretErr != nil {
			return nil, creds, authserver.NewError(authserver.ErrInvalidClient, "malformed basic credentials")
		}
		if formID := form.Get("client_id"); formID != "" && formID != id {
			return nil, creds, authserver.NewError(authserver.ErrInvalidRequest, "client_id does not match the authenticated client")
		}
		creds.ClientID, creds.ClientSecret = id, secret
		return form, creds, nil
	}

	creds.ClientID = form.Get("client_id")
	creds.ClientSecret = form.Get("client_secret")
	return form, creds, nil
}

// writeClientError writes err, answering 401 with a Basic challenge when a
// client that authenticated with HTTP Basic fails authentication.
func writeClientError(w http.ResponseWriter, req *http.Request, err error) {
	e := authserver.AsError(err)
	if _, _, basic := req.BasicAuth(); basic && e.Kind == authserver.ErrInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: e.Code(), ErrorDescription: e.Description})
		return
	}
	writeOAuthError(w, err)
}
