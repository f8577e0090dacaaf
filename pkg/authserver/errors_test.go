// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   ErrorKind
		code   string
		status int
	}{
		{ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
		{ErrInvalidClient, "invalid_client", http.StatusBadRequest},
		{ErrInvalidGrant, "invalid_grant", http.StatusBadRequest},
		{ErrUnauthorizedClient, "unauthorized_client", http.StatusBadRequest},
		{ErrUnsupportedGrantType, "unsupported_grant_type", http.StatusBadRequest},
		{ErrInvalidScope, "invalid_scope", http.StatusBadRequest},
		{ErrUnsupportedResponseType, "unsupported_response_type", http.StatusBadRequest},
		{ErrAccessDenied, "access_denied", http.StatusBadRequest},
		{ErrServerError, "server_error", http.StatusInternalServerError},
		{ErrorKind(99), "server_error", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, tt.kind.String())
			assert.Equal(t, tt.status, tt.kind.HTTPStatus())
			assert.NotEmpty(t, tt.kind.DefaultDescription())
		})
	}
}

func TestError(t *testing.T) {
	t.Parallel()

	t.Run("default description", func(t *testing.T) {
		t.Parallel()
		e := newError(ErrInvalidScope, "")
		assert.Equal(t, ErrInvalidScope.DefaultDescription(), e.Description)
		assert.Equal(t, "invalid_scope", e.Code())
	})

	t.Run("server error hides cause", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("database is down")
		e := serverError(cause)
		assert.NotContains(t, e.Description, "database")
		assert.ErrorIs(t, e, cause)
		assert.Contains(t, e.Error(), "database is down")
	})

	t.Run("AsError", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, AsError(nil))

		wrapped := fmt.Errorf("context: %w", newError(ErrInvalidGrant, "bad code"))
		e := AsError(wrapped)
		require.NotNil(t, e)
		assert.Equal(t, ErrInvalidGrant, e.Kind)
		assert.True(t, IsKind(wrapped, ErrInvalidGrant))
		assert.False(t, IsKind(wrapped, ErrInvalidClient))

		plain := AsError(errors.New("boom"))
		assert.Equal(t, ErrServerError, plain.Kind)
	})
}
