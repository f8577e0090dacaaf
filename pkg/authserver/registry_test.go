// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

func TestNew(t *testing.T) {
	t.Parallel()

	users, err := identity.NewDirectory()
	require.NoError(t, err)
	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })

	tests := []struct {
		name    string
		cfg     Config
		stor    storage.Storage
		users   identity.UserLookup
		wantErr string
	}{
		{name: "valid", cfg: testConfig(), stor: stor, users: users},
		{name: "nil storage", cfg: testConfig(), users: users, wantErr: "storage is required"},
		{name: "nil users", cfg: testConfig(), stor: stor, wantErr: "user lookup is required"},
		{name: "weak secret", cfg: Config{Issuer: testIssuer, SigningSecret: "short"}, stor: stor, users: users, wantErr: "signing secret"},
		{
			name: "static client wildcard in host",
			cfg: func() Config {
				c := testConfig()
				c.StaticClients = []ClientConfig{{ID: "c1", RedirectURIs: []string{"http://localhost*"}}}
				return c
			}(),
			stor:    stor,
			users:   users,
			wantErr: "wildcard must leave the host fixed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, err := New(tt.cfg, tt.stor, tt.users)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testIssuer, svc.Config().Issuer)
		})
	}
}

func TestEnsureStaticClients(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	chatgpt, err := f.svc.FindActiveByID(ctx, "chatgpt-desktop")
	require.NoError(t, err)
	assert.Equal(t, "ChatGPT Desktop", chatgpt.Name)
	assert.False(t, chatgpt.Confidential)
	assert.Equal(t, []string{"mcp:read", "mcp:write"}, chatgpt.Scopes)
	assert.True(t, IsRedirectURIAllowed(chatgpt, "https://chatgpt.com/aip/g/callback"))
	assert.True(t, IsRedirectURIAllowed(chatgpt, "http://127.0.0.1:9999/cb"))
	assert.False(t, IsRedirectURIAllowed(chatgpt, "http://evil.example/cb"))

	for _, id := range []string{"claude-desktop", "generic-mcp-client"} {
		_, err := f.svc.FindActiveByID(ctx, id)
		require.NoError(t, err, id)
	}

	// Second run leaves existing records alone.
	require.NoError(t, f.svc.EnsureStaticClients(ctx))
	again, err := f.svc.FindActiveByID(ctx, "chatgpt-desktop")
	require.NoError(t, err)
	assert.Equal(t, chatgpt.CreatedAt, again.CreatedAt)
	assert.Equal(t, chatgpt.SecretHash, again.SecretHash)
}

func TestEnsureStaticClients_Confidential(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) {
		c.StaticClients = []ClientConfig{{
			ID:           "backend",
			Secret:       "backend-secret",
			RedirectURIs: []string{"https://app.example.com/cb"},
			Scopes:       []string{"mcp:read"},
		}}
	})
	ctx := context.Background()

	client, err := f.svc.FindActiveByID(ctx, "backend")
	require.NoError(t, err)
	assert.True(t, client.Confidential)
	assert.Equal(t, oauth.TokenEndpointAuthMethodClientSecretBasic, client.TokenEndpointAuthMethod)
	assert.NoError(t, bcrypt.CompareHashAndPassword(client.SecretHash, []byte("backend-secret")))

	_, err = f.svc.FindActiveByID(ctx, "claude-desktop")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		reg      ClientRegistration
		wantKind *ErrorKind
		check    func(t *testing.T, out *RegisteredClient)
	}{
		{
			name: "public client with defaults",
			reg:  ClientRegistration{ID: "pub", RedirectURIs: []string{"http://localhost:*"}},
			check: func(t *testing.T, out *RegisteredClient) {
				t.Helper()
				assert.Empty(t, out.Secret)
				assert.False(t, out.Client.Confidential)
				assert.True(t, out.Client.Active)
				assert.Equal(t, "none", out.Client.TokenEndpointAuthMethod)
				assert.Equal(t, []string{"mcp:read", "mcp:write"}, out.Client.Scopes)
				assert.Equal(t, []string{"authorization_code", "refresh_token"}, out.Client.GrantTypes)
				assert.Equal(t, []string{"code"}, out.Client.ResponseTypes)
				assert.NotEmpty(t, out.Client.SecretHash, "public clients carry a placeholder hash")
				assert.Equal(t, testStart, out.Client.CreatedAt)
			},
		},
		{
			name: "confidential client gets a secret once",
			reg: ClientRegistration{
				RedirectURIs:            []string{"https://app.example.com/cb"},
				TokenEndpointAuthMethod: "client_secret_post",
				Scopes:                  []string{"mcp:read"},
			},
			check: func(t *testing.T, out *RegisteredClient) {
				t.Helper()
				require.NotEmpty(t, out.Secret)
				assert.True(t, out.Client.Confidential)
				assert.Regexp(t, `^dyn_[0-9a-f]{16}$`, out.Client.ID)
				assert.NoError(t, bcrypt.CompareHashAndPassword(out.Client.SecretHash, []byte(out.Secret)))
				assert.Equal(t, []string{"mcp:read"}, out.Client.Scopes)
			},
		},
		{
			name:     "duplicate id",
			reg:      ClientRegistration{ID: "claude-desktop", RedirectURIs: []string{"http://localhost:*"}},
			wantKind: ptr(ErrInvalidRequest),
		},
		{
			name:     "invalid redirect",
			reg:      ClientRegistration{RedirectURIs: []string{"https://a.example/cb#frag"}},
			wantKind: ptr(ErrInvalidRequest),
		},
		{
			name:     "wildcard glued to host",
			reg:      ClientRegistration{RedirectURIs: []string{"http://localhost*"}},
			wantKind: ptr(ErrInvalidRequest),
		},
		{
			name:     "wildcard subdomain",
			reg:      ClientRegistration{RedirectURIs: []string{"https://*.example.com/cb"}},
			wantKind: ptr(ErrInvalidRequest),
		},
		{
			name:     "no redirect",
			reg:      ClientRegistration{},
			wantKind: ptr(ErrInvalidRequest),
		},
		{
			name:     "unsupported scope",
			reg:      ClientRegistration{RedirectURIs: []string{"http://localhost:*"}, Scopes: []string{"admin"}},
			wantKind: ptr(ErrInvalidScope),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			out, err := f.svc.Register(context.Background(), tt.reg)
			if tt.wantKind != nil {
				requireKind(t, err, *tt.wantKind)
				return
			}
			require.NoError(t, err)
			tt.check(t, out)

			stored, err := f.stor.GetClient(context.Background(), out.Client.ID)
			require.NoError(t, err)
			assert.Equal(t, out.Client.ID, stored.ID)
		})
	}
}

func TestRegister_DuplicateWrapsAlreadyExists(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), ClientRegistration{ID: "claude-desktop", RedirectURIs: []string{"http://localhost:*"}})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestFindActiveByID_Inactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.stor.CreateClient(ctx, &storage.Client{
		ID:           "disabled",
		RedirectURIs: []oauth.RedirectPattern{oauth.MustParseRedirectPattern("http://localhost:*")},
		Scopes:       []string{"mcp:read"},
		Active:       false,
	}))

	_, err := f.svc.FindActiveByID(ctx, "disabled")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.FindActiveByID(ctx, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeactivateClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	resp := f.exchange(t, f.authorize(t, authorizeParams{}))
	pending := f.authorize(t, authorizeParams{})

	require.NoError(t, f.svc.DeactivateClient(ctx, "claude-desktop"))

	_, err := f.svc.FindActiveByID(ctx, "claude-desktop")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, _, err = f.svc.ValidateAuthorizationRequest(ctx, AuthorizationRequest{
		ResponseType: "code", ClientID: "claude-desktop", RedirectURI: testRedirect,
	})
	requireKind(t, err, ErrInvalidClient)

	_, err = f.svc.ExchangeCode(ctx, CodeExchangeRequest{Code: pending, ClientID: "claude-desktop", RedirectURI: testRedirect})
	requireKind(t, err, ErrInvalidClient)

	_, err = f.svc.Refresh(ctx, RefreshRequest{RefreshToken: resp.RefreshToken, ClientID: "claude-desktop"})
	requireKind(t, err, ErrInvalidClient)

	// Restarting does not bring the static client back.
	require.NoError(t, f.svc.EnsureStaticClients(ctx))
	_, err = f.svc.FindActiveByID(ctx, "claude-desktop")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Other clients are unaffected.
	_, err = f.svc.FindActiveByID(ctx, "chatgpt-desktop")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeactivateClient(ctx, "missing"), storage.ErrNotFound)
}

func TestScopesAllowed(t *testing.T) {
	t.Parallel()

	client := &storage.Client{Scopes: []string{"mcp:read", "mcp:write"}}

	tests := []struct {
		name      string
		requested []string
		want      []string
		ok        bool
	}{
		{name: "empty yields all", requested: nil, want: []string{"mcp:read", "mcp:write"}, ok: true},
		{name: "subset", requested: []string{"mcp:read"}, want: []string{"mcp:read"}, ok: true},
		{name: "escalation", requested: []string{"mcp:read", "admin"}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ScopesAllowed(client, tt.requested)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticateClient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	secret := f.registerConfidential(t, "conf")
	ctx := context.Background()

	tests := []struct {
		name     string
		creds    ClientCredentials
		wantKind *ErrorKind
	}{
		{name: "public client without secret", creds: ClientCredentials{ClientID: "claude-desktop"}},
		{name: "public client secret ignored", creds: ClientCredentials{ClientID: "claude-desktop", ClientSecret: "whatever"}},
		{name: "confidential with secret", creds: ClientCredentials{ClientID: "conf", ClientSecret: secret}},
		{name: "confidential without secret", creds: ClientCredentials{ClientID: "conf"}, wantKind: ptr(ErrInvalidClient)},
		{name: "confidential wrong secret", creds: ClientCredentials{ClientID: "conf", ClientSecret: "nope"}, wantKind: ptr(ErrInvalidClient)},
		{name: "unknown client", creds: ClientCredentials{ClientID: "ghost"}, wantKind: ptr(ErrInvalidClient)},
		{name: "missing client id", creds: ClientCredentials{}, wantKind: ptr(ErrInvalidClient)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, err := f.svc.authenticateClient(ctx, tt.creds)
			if tt.wantKind != nil {
				requireKind(t, err, *tt.wantKind)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.creds.ClientID, client.ID)
		})
	}
}

func ptr[T any](v T) *T { return &v }
