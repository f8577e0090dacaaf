// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	servercrypto "github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/crypto"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
)

const (
	testIssuer   = "https://auth.example.com"
	testSecret   = "0123456789abcdef0123456789abcdef"
	testRedirect = "http://localhost:54231/callback"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	alice = &identity.User{ID: "u-alice", Username: "alice", Active: true}
	bob   = &identity.User{ID: "u-bob", Username: "bob", Active: true}
	carol = &identity.User{ID: "u-carol", Username: "carol", Active: false}
)

type fixture struct {
	svc   *Service
	stor  *storage.MemoryStorage
	users *identity.Directory
	clock *testClock
}

func testConfig() Config {
	return Config{
		Issuer:        testIssuer,
		SigningSecret: testSecret,
	}
}

// newFixture returns a service over memory storage with the default static
// clients registered.
func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	clock := &testClock{now: testStart}
	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })

	users, err := identity.NewDirectory(alice, bob, carol)
	require.NoError(t, err)

	svc, err := New(cfg, stor, users, WithClock(clock.Now), WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	require.NoError(t, svc.EnsureStaticClients(context.Background()))

	return &fixture{svc: svc, stor: stor, users: users, clock: clock}
}

// registerConfidential registers a confidential client and returns its secret.
func (f *fixture) registerConfidential(t *testing.T, id string) string {
	t.Helper()
	reg, err := f.svc.Register(context.Background(), ClientRegistration{
		ID:                      id,
		Name:                    "Confidential " + id,
		RedirectURIs:            []string{"https://app.example.com/cb"},
		TokenEndpointAuthMethod: "client_secret_basic",
	})
	require.NoError(t, err)
	require.NotEmpty(t, reg.Secret)
	return reg.Secret
}

type authorizeParams struct {
	user      *identity.User
	clientID  string
	redirect  string
	scope     string
	challenge string
	method    string
}

// authorize runs validation and code issuance the way the authorize
// endpoint does after the user approved.
func (f *fixture) authorize(t *testing.T, p authorizeParams) string {
	t.Helper()
	if p.user == nil {
		p.user = alice
	}
	if p.clientID == "" {
		p.clientID = "claude-desktop"
	}
	if p.redirect == "" {
		p.redirect = testRedirect
	}

	ctx := context.Background()
	client, scopes, err := f.svc.ValidateAuthorizationRequest(ctx, AuthorizationRequest{
		ResponseType:        "code",
		ClientID:            p.clientID,
		RedirectURI:         p.redirect,
		Scope:               p.scope,
		State:               "xyz",
		CodeChallenge:       p.challenge,
		CodeChallengeMethod: p.method,
	})
	require.NoError(t, err)

	code, err := f.svc.IssueCode(ctx, p.user, client, IssueCodeParams{
		Scopes:              scopes,
		RedirectURI:         p.redirect,
		CodeChallenge:       p.challenge,
		CodeChallengeMethod: p.method,
	})
	require.NoError(t, err)
	require.NotEmpty(t, code)
	return code
}

// exchange redeems code for the public claude-desktop client.
func (f *fixture) exchange(t *testing.T, code string) *TokenResponse {
	t.Helper()
	resp, err := f.svc.ExchangeCode(context.Background(), CodeExchangeRequest{
		Code:        code,
		ClientID:    "claude-desktop",
		RedirectURI: testRedirect,
	})
	require.NoError(t, err)
	return resp
}

func newPKCEPair() (verifier, challenge string) {
	verifier = servercrypto.GeneratePKCEVerifier()
	return verifier, servercrypto.ComputePKCEChallenge(verifier)
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	e := AsError(err)
	require.Equal(t, kind, e.Kind, "got %s: %s", e.Kind, e.Description)
}

func assertError(t *testing.T, err error, wantErr bool, errMsg string) {
	t.Helper()
	if wantErr {
		if err == nil {
			t.Errorf("expected error containing %q, got nil", errMsg)
		} else if !strings.Contains(err.Error(), errMsg) {
			t.Errorf("expected error containing %q, got %q", errMsg, err.Error())
		}
	} else if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
