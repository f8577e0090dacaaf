// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/handlers"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	storagemocks "github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage/mocks"
)

func newTestRouter(t *testing.T, stor storage.Storage, metricsCfg MetricsConfig) http.Handler {
	t.Helper()

	users, err := identity.NewDirectory(&identity.User{ID: "u-1", Username: "alice", Active: true})
	require.NoError(t, err)

	metrics, err := newMetricsProvider(metricsCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = metrics.shutdown(context.Background()) })
	require.NoError(t, observeMemoryStorage(metrics.meterProvider, stor))

	svc, err := authserver.New(authserver.Config{
		Issuer:        "https://auth.example.com",
		SigningSecret: testSecret,
	}, stor, users, authserver.WithMeterProvider(metrics.meterProvider))
	require.NoError(t, err)

	if _, ok := stor.(*storage.MemoryStorage); ok {
		require.NoError(t, svc.EnsureStaticClients(context.Background()))
	}

	h := handlers.NewHandler(svc, identity.NewHeaderAuthenticator("", users))
	return newRouter(h, stor, metrics.handler)
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewRouter(t *testing.T) {
	t.Parallel()

	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })
	router := newTestRouter(t, stor, MetricsConfig{Enabled: true})

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, http.StatusNoContent, get(router, "/healthz").Code)
	})

	t.Run("discovery is mounted", func(t *testing.T) {
		t.Parallel()
		rec := get(router, "/.well-known/oauth-authorization-server")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"issuer":"https://auth.example.com"`)
	})

	t.Run("metrics expose service counters", func(t *testing.T) {
		t.Parallel()
		rec := get(router, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "authserver_clients_registered")
		assert.NotContains(t, rec.Body.String(), "go_goroutines")
	})
}

func TestObserveMemoryStorage(t *testing.T) {
	t.Parallel()

	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })
	router := newTestRouter(t, stor, MetricsConfig{Enabled: true})

	rec := get(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "authserver_memory_records")
	// EnsureStaticClients seeds the three default clients.
	assert.Regexp(t, `authserver_memory_records\{[^}]*record="client"[^}]*\} 3`, body)
	assert.Regexp(t, `authserver_memory_records\{[^}]*record="refresh_token"[^}]*\} 0`, body)
}

func TestObserveMemoryStorage_OtherBackend(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	stor := storagemocks.NewMockStorage(ctrl)

	metrics, err := newMetricsProvider(MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = metrics.shutdown(context.Background()) })
	require.NoError(t, observeMemoryStorage(metrics.meterProvider, stor))

	rec := httptest.NewRecorder()
	metrics.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), "authserver_memory_records")
}

func TestNewRouter_MetricsDisabled(t *testing.T) {
	t.Parallel()

	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })
	router := newTestRouter(t, stor, MetricsConfig{})

	assert.Equal(t, http.StatusNotFound, get(router, "/metrics").Code)
}

func TestNewRouter_StorageUnhealthy(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	stor := storagemocks.NewMockStorage(ctrl)
	stor.EXPECT().Ping(gomock.Any()).Return(errors.New("dial tcp: connection refused"))

	router := newTestRouter(t, stor, MetricsConfig{})
	rec := get(router, "/healthz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestNewMetricsProvider_RuntimeMetrics(t *testing.T) {
	t.Parallel()

	metrics, err := newMetricsProvider(MetricsConfig{Enabled: true, IncludeRuntimeMetrics: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = metrics.shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	metrics.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "validate", "version", "deactivate-client"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("debug"))
}

func TestDeactivateClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	stor := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = stor.Close() })
	users, err := identity.NewDirectory(&identity.User{ID: "u-1", Username: "alice", Active: true})
	require.NoError(t, err)

	auth := authserver.Config{Issuer: "https://auth.example.com", SigningSecret: testSecret}
	svc, err := authserver.New(auth, stor, users)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureStaticClients(ctx))

	require.NoError(t, deactivateClient(ctx, auth, stor, users, "claude-desktop"))
	client, err := stor.GetClient(ctx, "claude-desktop")
	require.NoError(t, err)
	assert.False(t, client.Active)

	err = deactivateClient(ctx, auth, stor, users, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
