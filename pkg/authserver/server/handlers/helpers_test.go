// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	servercrypto "github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/crypto"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
)

const (
	testIssuer   = "https://auth.example.com"
	testSecret   = "0123456789abcdef0123456789abcdef"
	testClientID = "claude-desktop"
	testRedirect = "http://localhost:54231/callback"
	testState    = "state-123"
	aliceID      = "u-alice"
	bobID        = "u-bob"
)

var consentIDPattern = regexp.MustCompile(`name="consent_id" value="([^"]+)"`)

type testEnv struct {
	handler *Handler
	svc     *authserver.Service
	stor    *storage.MemoryStorage
	router  http.Handler
}

// newTestEnv wires a Handler to a real service over memory storage. Browser
// requests are authenticated by the identity.DefaultUserHeader header.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })

	users, err := identity.NewDirectory(
		&identity.User{ID: aliceID, Username: "alice", Active: true},
		&identity.User{ID: bobID, Username: "bob", Active: true},
	)
	require.NoError(t, err)

	svc := newService(t, stor, users)
	require.NoError(t, svc.EnsureStaticClients(context.Background()))

	h := NewHandler(svc, identity.NewHeaderAuthenticator("", users), opts...)
	return &testEnv{handler: h, svc: svc, stor: stor, router: h.Routes()}
}

// subSecondClock follows the wall clock with the fraction pinned at 0.7s so
// that anything derived from truncated JWT timestamps would be off by one.
func subSecondClock() time.Time {
	return time.Now().Truncate(time.Second).Add(700 * time.Millisecond)
}

func newService(t *testing.T, stor storage.Storage, users identity.UserLookup) *authserver.Service {
	t.Helper()
	svc, err := authserver.New(authserver.Config{
		Issuer:        testIssuer,
		SigningSecret: testSecret,
	}, stor, users, authserver.WithClock(subSecondClock), authserver.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return svc
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func asUser(req *http.Request, userID string) *http.Request {
	if userID != "" {
		req.Header.Set(identity.DefaultUserHeader, userID)
	}
	return req
}

func authorizeQuery(mutate func(url.Values)) url.Values {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirect},
		"state":         {testState},
	}
	if mutate != nil {
		mutate(q)
	}
	return q
}

func authorizeRequest(q url.Values, userID string) *http.Request {
	return asUser(httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil), userID)
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// consentID extracts the pending consent id from a rendered consent page.
func consentID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	m := consentIDPattern.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2, "consent page without consent_id: %s", rec.Body.String())
	return m[1]
}

func redirectParams(t *testing.T, rec *httptest.ResponseRecorder) (*url.URL, url.Values) {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc, loc.Query()
}

// approve runs the authorize and consent steps for userID and returns the code.
func (e *testEnv) approve(t *testing.T, userID string, q url.Values) string {
	t.Helper()

	rec := e.serve(authorizeRequest(q, userID))
	if rec.Code == http.StatusOK {
		form := url.Values{"consent_id": {consentID(t, rec)}, "decision": {decisionApprove}}
		rec = e.serve(asUser(formRequest("/oauth/authorize", form), userID))
	}
	_, params := redirectParams(t, rec)
	require.Empty(t, params.Get("error"), params.Get("error_description"))
	require.Equal(t, q.Get("state"), params.Get("state"))
	code := params.Get("code")
	require.NotEmpty(t, code)
	return code
}

func (e *testEnv) tokens(t *testing.T, code, verifier string) authserver.TokenResponse {
	t.Helper()
	rec := e.serve(formRequest("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirect},
		"code_verifier": {verifier},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeJSON[authserver.TokenResponse](t, rec)
}

func newPKCEPair() (verifier, challenge string) {
	verifier = servercrypto.GeneratePKCEVerifier()
	return verifier, servercrypto.ComputePKCEChallenge(verifier)
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
