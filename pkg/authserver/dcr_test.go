// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/registration"
)

func TestRegisterDynamic(t *testing.T) {
	t.Parallel()

	t.Run("public client", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		resp, err := f.svc.RegisterDynamic(context.Background(), &registration.DCRRequest{
			RedirectURIs: []string{"http://127.0.0.1:*/callback"},
		})
		require.NoError(t, err)
		assert.Regexp(t, `^dyn_[0-9a-f]{16}$`, resp.ClientID)
		assert.Equal(t, "Dynamic Client "+resp.ClientID[4:12], resp.ClientName)
		assert.Equal(t, "none", resp.TokenEndpointAuthMethod)
		assert.Empty(t, resp.ClientSecret)
		assert.Nil(t, resp.ClientSecretExpiresAt)
		assert.Equal(t, []string{"authorization_code", "refresh_token"}, resp.GrantTypes)
		assert.Equal(t, []string{"code"}, resp.ResponseTypes)
		assert.Equal(t, "mcp:read mcp:write", resp.Scope)
		assert.Equal(t, testStart.Unix(), resp.ClientIDIssuedAt)

		// The new client can run the flow straight away.
		code := f.authorize(t, authorizeParams{clientID: resp.ClientID, redirect: "http://127.0.0.1:6274/callback"})
		_, err = f.svc.ExchangeCode(context.Background(), CodeExchangeRequest{
			Code: code, ClientID: resp.ClientID, RedirectURI: "http://127.0.0.1:6274/callback",
		})
		require.NoError(t, err)
	})

	t.Run("confidential client", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		resp, err := f.svc.RegisterDynamic(context.Background(), &registration.DCRRequest{
			RedirectURIs:            []string{"https://app.example.com/cb"},
			ClientName:              "Garage App",
			TokenEndpointAuthMethod: "client_secret_basic",
			Scope:                   "mcp:read",
		})
		require.NoError(t, err)
		assert.Equal(t, "Garage App", resp.ClientName)
		assert.NotEmpty(t, resp.ClientSecret)
		require.NotNil(t, resp.ClientSecretExpiresAt)
		assert.Zero(t, *resp.ClientSecretExpiresAt)
		assert.Equal(t, "mcp:read", resp.Scope)

		client, err := f.svc.authenticateClient(context.Background(), ClientCredentials{
			ClientID: resp.ClientID, ClientSecret: resp.ClientSecret,
		})
		require.NoError(t, err)
		assert.True(t, client.Confidential)
	})

	tests := []struct {
		name    string
		req     *registration.DCRRequest
		wantErr string
	}{
		{
			name:    "missing redirect uris",
			req:     &registration.DCRRequest{},
			wantErr: registration.DCRErrorInvalidRedirectURI,
		},
		{
			name:    "javascript redirect",
			req:     &registration.DCRRequest{RedirectURIs: []string{"javascript:alert(1)"}},
			wantErr: registration.DCRErrorInvalidRedirectURI,
		},
		{
			name:    "http on a public host",
			req:     &registration.DCRRequest{RedirectURIs: []string{"http://app.example.com/cb"}},
			wantErr: registration.DCRErrorInvalidRedirectURI,
		},
		{
			name: "implicit grant",
			req: &registration.DCRRequest{
				RedirectURIs: []string{"https://app.example.com/cb"},
				GrantTypes:   []string{"implicit"},
			},
			wantErr: registration.DCRErrorInvalidClientMetadata,
		},
		{
			name: "unsupported scope",
			req: &registration.DCRRequest{
				RedirectURIs: []string{"https://app.example.com/cb"},
				Scope:        "mcp:read admin",
			},
			wantErr: registration.DCRErrorInvalidClientMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			resp, err := f.svc.RegisterDynamic(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, resp)

			var dcrErr *DCRError
			require.True(t, errors.As(err, &dcrErr), "expected *DCRError, got %T", err)
			assert.Equal(t, tt.wantErr, dcrErr.Body.Error)
			assert.NotEmpty(t, dcrErr.Body.ErrorDescription)
		})
	}
}
