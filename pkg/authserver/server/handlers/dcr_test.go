// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/registration"
)

func registerRequest(body, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestRegisterClientHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
		wantError   string
		checkFunc   func(t *testing.T, resp registration.DCRResponse)
	}{
		{
			name:        "public loopback client",
			body:        `{"redirect_uris":["http://127.0.0.1:*/callback"],"client_name":"Inspector"}`,
			contentType: "application/json",
			wantStatus:  http.StatusCreated,
			checkFunc: func(t *testing.T, resp registration.DCRResponse) {
				t.Helper()
				assert.Regexp(t, `^dyn_[0-9a-f]{16}$`, resp.ClientID)
				assert.Equal(t, "Inspector", resp.ClientName)
				assert.Equal(t, "none", resp.TokenEndpointAuthMethod)
				assert.Empty(t, resp.ClientSecret)
				assert.Equal(t, []string{"http://127.0.0.1:*/callback"}, resp.RedirectURIs)
			},
		},
		{
			name:        "confidential client",
			body:        `{"redirect_uris":["https://garage.example.com/cb"],"token_endpoint_auth_method":"client_secret_post"}`,
			contentType: "application/json; charset=utf-8",
			wantStatus:  http.StatusCreated,
			checkFunc: func(t *testing.T, resp registration.DCRResponse) {
				t.Helper()
				assert.NotEmpty(t, resp.ClientSecret)
				require.NotNil(t, resp.ClientSecretExpiresAt)
				assert.Zero(t, *resp.ClientSecretExpiresAt)
				assert.True(t, strings.HasPrefix(resp.ClientName, "Dynamic Client "))
			},
		},
		{
			name:        "wrong content type",
			body:        `{"redirect_uris":["http://localhost:*"]}`,
			contentType: "application/x-www-form-urlencoded",
			wantStatus:  http.StatusBadRequest,
			wantError:   registration.DCRErrorInvalidClientMetadata,
		},
		{
			name:        "malformed json",
			body:        `{"redirect_uris":`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
			wantError:   registration.DCRErrorInvalidClientMetadata,
		},
		{
			name:        "forbidden redirect scheme",
			body:        `{"redirect_uris":["javascript:alert(1)"]}`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
			wantError:   registration.DCRErrorInvalidRedirectURI,
		},
		{
			name:        "unsupported scope",
			body:        `{"redirect_uris":["http://localhost:*"],"scope":"admin"}`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
			wantError:   registration.DCRErrorInvalidClientMetadata,
		},
		{
			name:        "oversized body",
			body:        `{"client_name":"` + strings.Repeat("a", maxDCRBodySize) + `"}`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
			wantError:   registration.DCRErrorInvalidClientMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)

			rec := env.serve(registerRequest(tt.body, tt.contentType))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeJSON[registration.DCRError](t, rec).Error)
				return
			}
			tt.checkFunc(t, decodeJSON[registration.DCRResponse](t, rec))
		})
	}
}

func TestRegisterClientHandler_RateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithRegisterLimit(0, 1))

	body := `{"redirect_uris":["http://localhost:*"]}`
	rec := env.serve(registerRequest(body, "application/json"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.serve(registerRequest(body, "application/json"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
