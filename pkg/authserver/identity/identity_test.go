// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity/mocks"
)

const directoryYAML = `
users:
  - id: "1"
    username: alice
    active: true
  - id: "2"
    username: bob
    active: false
`

func TestParseDirectory(t *testing.T) {
	t.Parallel()

	dir, err := identity.ParseDirectory([]byte(directoryYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Len())

	alice, err := dir.LookupUser(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, &identity.User{ID: "1", Username: "alice", Active: true}, alice)

	_, err = dir.LookupUser(context.Background(), "3")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestParseDirectory_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "users:\n  - id: \"1\"\n    password: hunter2\n"},
		{"missing id", "users:\n  - username: alice\n"},
		{"duplicate id", "users:\n  - id: \"1\"\n  - id: \"1\"\n"},
		{"not yaml", "users: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := identity.ParseDirectory([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryYAML), 0o600))

	dir, err := identity.LoadDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Len())

	_, err = identity.LoadDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDirectory_ReturnsCopies(t *testing.T) {
	t.Parallel()

	dir, err := identity.NewDirectory(&identity.User{ID: "1", Username: "alice", Active: true})
	require.NoError(t, err)

	u, err := dir.LookupUser(context.Background(), "1")
	require.NoError(t, err)
	u.Active = false

	again, err := dir.LookupUser(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, again.Active)

	dir.Put(identity.User{ID: "1", Username: "alice", Active: false})
	again, err = dir.LookupUser(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, again.Active)
}

func TestUserContext(t *testing.T) {
	t.Parallel()

	_, ok := identity.UserFromContext(context.Background())
	assert.False(t, ok)

	ctx := identity.WithUser(context.Background(), &identity.User{ID: "1"})
	u, ok := identity.UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "1", u.ID)

	_, ok = identity.UserFromContext(identity.WithUser(context.Background(), nil))
	assert.False(t, ok)
}

func TestHeaderAuthenticator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		setup   func(m *mocks.MockUserLookup)
		wantID  string
		wantErr error
	}{
		{
			name:    "no header",
			setup:   func(*mocks.MockUserLookup) {},
			wantErr: identity.ErrUnauthenticated,
		},
		{
			name:   "active user",
			header: "42",
			setup: func(m *mocks.MockUserLookup) {
				m.EXPECT().LookupUser(gomock.Any(), "42").
					Return(&identity.User{ID: "42", Username: "alice", Active: true}, nil)
			},
			wantID: "42",
		},
		{
			name:   "inactive user",
			header: "42",
			setup: func(m *mocks.MockUserLookup) {
				m.EXPECT().LookupUser(gomock.Any(), "42").
					Return(&identity.User{ID: "42", Active: false}, nil)
			},
			wantErr: identity.ErrUnauthenticated,
		},
		{
			name:   "unknown user",
			header: "42",
			setup: func(m *mocks.MockUserLookup) {
				m.EXPECT().LookupUser(gomock.Any(), "42").Return(nil, identity.ErrUserNotFound)
			},
			wantErr: identity.ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			lookup := mocks.NewMockUserLookup(ctrl)
			tt.setup(lookup)

			auth := identity.NewHeaderAuthenticator("", lookup)
			req := httptest.NewRequest("GET", "/oauth/authorize", nil)
			if tt.header != "" {
				req.Header.Set(identity.DefaultUserHeader, tt.header)
			}

			u, err := auth.Authenticate(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, u.ID)
		})
	}
}

func TestHeaderAuthenticator_LookupFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockUserLookup(ctrl)
	lookup.EXPECT().LookupUser(gomock.Any(), "42").Return(nil, errors.New("db down"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User", "42")

	_, err := identity.NewHeaderAuthenticator("X-User", lookup).Authenticate(req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrUnauthenticated)
}

func TestHeaderAuthenticator_PrefersContextUser(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockUserLookup(ctrl)

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(identity.WithUser(req.Context(), &identity.User{ID: "7", Active: true}))

	u, err := identity.NewHeaderAuthenticator("", lookup).Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, "7", u.ID)
}
