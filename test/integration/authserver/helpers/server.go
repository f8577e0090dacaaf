// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package helpers provides fixtures for the authorization server integration tests.
package helpers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/handlers"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
)

const (
	// SigningSecret is the HS256 key used by every test server.
	SigningSecret = "integration-test-signing-secret-0123456789"

	// AliceID and BobID are the users known to the test directory.
	AliceID = "u-alice"
	BobID   = "u-bob"

	// ResourcePath is a sample resource protected by a bearer token with mcp:read.
	ResourcePath = "/api/me"
)

// StorageBackends returns a constructor per storage backend, keyed by name.
func StorageBackends() map[string]func(tb testing.TB) storage.Storage {
	return map[string]func(tb testing.TB) storage.Storage{
		"memory": func(testing.TB) storage.Storage {
			return storage.NewMemoryStorage()
		},
		"sqlite": func(tb testing.TB) storage.Storage {
			tb.Helper()
			stor, err := storage.New(context.Background(), &storage.Config{
				Type:   storage.TypeSQLite,
				SQLite: &storage.SQLiteConfig{Path: filepath.Join(tb.TempDir(), "oauth.db")},
			})
			require.NoError(tb, err)
			return stor
		},
		"redis": func(tb testing.TB) storage.Storage {
			tb.Helper()
			mr := miniredis.RunT(tb)
			stor, err := storage.New(context.Background(), &storage.Config{
				Type:  storage.TypeRedis,
				Redis: &storage.RedisConfig{Addr: mr.Addr()},
			})
			require.NoError(tb, err)
			return stor
		},
	}
}

// TestServer is a running authorization server with a protected resource.
type TestServer struct {
	URL     string
	Service *authserver.Service
	Storage storage.Storage
	Users   *identity.Directory
}

// NewTestServer starts an httptest server whose issuer is its own URL.
func NewTestServer(tb testing.TB, stor storage.Storage) *TestServer {
	tb.Helper()

	users, err := identity.NewDirectory(
		&identity.User{ID: AliceID, Username: "alice", Active: true},
		&identity.User{ID: BobID, Username: "bob", Active: true},
	)
	require.NoError(tb, err)

	tb.Cleanup(func() { _ = stor.Close() })

	var router http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	tb.Cleanup(srv.Close)

	svc, err := authserver.New(authserver.Config{
		Issuer:        srv.URL,
		SigningSecret: SigningSecret,
	}, stor, users, authserver.WithBcryptCost(bcrypt.MinCost))
	require.NoError(tb, err)
	require.NoError(tb, svc.EnsureStaticClients(context.Background()))

	h := handlers.NewHandler(svc, identity.NewHeaderAuthenticator("", users))

	r := chi.NewRouter()
	r.With(handlers.BearerMiddleware(svc), handlers.RequireScope(authserver.ScopeRead)).
		Get(ResourcePath, func(w http.ResponseWriter, req *http.Request) {
			p, _ := handlers.PrincipalFromContext(req.Context())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"user_id":  p.UserID,
				"username": p.Username,
				"client":   p.ClientID,
				"scope":    strings.Join(p.Scopes, " "),
			})
		})
	r.Mount("/", h.Routes())
	router = r

	return &TestServer{URL: srv.URL, Service: svc, Storage: stor, Users: users}
}
