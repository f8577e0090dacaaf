// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stacklok/toolhive-core/httperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// newStoreFunc returns a fresh, empty store. Implementations register cleanup
// with t.Cleanup.
type newStoreFunc func(t *testing.T) Storage

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func requireNotFoundError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound, "should match storage.ErrNotFound")
	assert.Equal(t, http.StatusNotFound, httperr.Code(err))
}

func testClient(id string) *Client {
	return &Client{
		ID:                      id,
		SecretHash:              []byte("hash"),
		Name:                    "Test Client",
		RedirectURIs:            []oauth.RedirectPattern{oauth.MustParseRedirectPattern("http://localhost:*")},
		GrantTypes:              []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
		ResponseTypes:           []string{oauth.ResponseTypeCode},
		Scopes:                  []string{"read", "write"},
		TokenEndpointAuthMethod: oauth.TokenEndpointAuthMethodNone,
		Active:                  true,
		CreatedAt:               baseTime,
	}
}

func testCode(hash string) *AuthorizationCode {
	return &AuthorizationCode{
		CodeHash:            hash,
		UserID:              "user-1",
		Username:            "alice",
		ClientID:            "client-1",
		RedirectURI:         "http://localhost:3000/cb",
		Scopes:              []string{"read"},
		CodeChallenge:       "challenge",
		CodeChallengeMethod: oauth.PKCEMethodS256,
		ExpiresAt:           baseTime.Add(10 * time.Minute),
		CreatedAt:           baseTime,
	}
}

func testRefresh(hash, userID, clientID string) *RefreshToken {
	return &RefreshToken{
		TokenHash: hash,
		UserID:    userID,
		Username:  "alice",
		ClientID:  clientID,
		Scopes:    []string{"read"},
		ExpiresAt: baseTime.Add(30 * 24 * time.Hour),
		CreatedAt: baseTime,
	}
}

func testConsent(id string) *PendingConsent {
	return &PendingConsent{
		ID:                  id,
		UserID:              "user-1",
		ClientID:            "client-1",
		RedirectURI:         "http://localhost:3000/cb",
		Scopes:              []string{"read", "write"},
		State:               "xyz",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: oauth.PKCEMethodS256,
		ExpiresAt:           baseTime.Add(10 * time.Minute),
		CreatedAt:           baseTime,
	}
}

// runStorageContract exercises the behaviour every backend must share.
//
//nolint:paralleltest // subtests call t.Parallel
func runStorageContract(t *testing.T, newStore newStoreFunc) {
	t.Helper()

	t.Run("Clients", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetClient(ctx, "missing")
		requireNotFoundError(t, err)

		require.NoError(t, s.CreateClient(ctx, testClient("client-1")))
		assert.ErrorIs(t, s.CreateClient(ctx, testClient("client-1")), ErrAlreadyExists)

		got, err := s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "Test Client", got.Name)
		assert.Equal(t, []byte("hash"), got.SecretHash)
		assert.Equal(t, []string{"http://localhost:*"}, oauth.RedirectPatternStrings(got.RedirectURIs))
		assert.True(t, got.RedirectURIs[0].Matches("http://localhost:8765/callback"))
		assert.Equal(t, []string{"read", "write"}, got.Scopes)
		assert.Equal(t, []string{oauth.ResponseTypeCode}, got.ResponseTypes)
		assert.True(t, got.Active)
		assert.False(t, got.Confidential)
		assert.True(t, baseTime.Equal(got.CreatedAt))
	})

	t.Run("DeactivateClient", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		requireNotFoundError(t, s.DeactivateClient(ctx, "missing"))

		require.NoError(t, s.CreateClient(ctx, testClient("client-1")))
		require.NoError(t, s.CreateClient(ctx, testClient("client-2")))
		require.NoError(t, s.DeactivateClient(ctx, "client-1"))
		require.NoError(t, s.DeactivateClient(ctx, "client-1"), "deactivation is idempotent")

		got, err := s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.Equal(t, "Test Client", got.Name)
		assert.Equal(t, []string{"http://localhost:*"}, oauth.RedirectPatternStrings(got.RedirectURIs))

		other, err := s.GetClient(ctx, "client-2")
		require.NoError(t, err)
		assert.True(t, other.Active)
	})

	t.Run("Grants", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetGrant(ctx, "user-1", "client-a")
		requireNotFoundError(t, err)
		requireNotFoundError(t, s.DeleteGrant(ctx, "user-1", "client-a"))

		require.NoError(t, s.UpsertGrant(ctx, &Grant{
			UserID: "user-1", ClientID: "client-b", Scopes: []string{"read"},
			CreatedAt: baseTime, UpdatedAt: baseTime,
		}))
		require.NoError(t, s.UpsertGrant(ctx, &Grant{
			UserID: "user-1", ClientID: "client-a", Scopes: []string{"read"},
			CreatedAt: baseTime, UpdatedAt: baseTime,
		}))
		require.NoError(t, s.UpsertGrant(ctx, &Grant{
			UserID: "user-2", ClientID: "client-a", Scopes: []string{"write"},
			CreatedAt: baseTime, UpdatedAt: baseTime,
		}))

		later := baseTime.Add(time.Hour)
		require.NoError(t, s.UpsertGrant(ctx, &Grant{
			UserID: "user-1", ClientID: "client-b", Scopes: []string{"read", "write"},
			CreatedAt: later, UpdatedAt: later,
		}))

		g, err := s.GetGrant(ctx, "user-1", "client-b")
		require.NoError(t, err)
		assert.Equal(t, []string{"read", "write"}, g.Scopes)
		assert.True(t, baseTime.Equal(g.CreatedAt), "created_at is preserved on update")
		assert.True(t, later.Equal(g.UpdatedAt))

		list, err := s.ListGrants(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "client-a", list[0].ClientID)
		assert.Equal(t, "client-b", list[1].ClientID)

		require.NoError(t, s.DeleteGrant(ctx, "user-1", "client-a"))
		list, err = s.ListGrants(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, list, 1)

		other, err := s.ListGrants(ctx, "user-2")
		require.NoError(t, err)
		assert.Len(t, other, 1)

		none, err := s.ListGrants(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("AuthorizationCodeRedeemedOnce", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-1")))
		assert.ErrorIs(t, s.CreateAuthorizationCode(ctx, testCode("code-1")), ErrAlreadyExists)

		got, err := s.GetAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.False(t, got.Used)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "challenge", got.CodeChallenge)
		assert.True(t, baseTime.Add(10*time.Minute).Equal(got.ExpiresAt))

		redeemed, err := s.RedeemAuthorizationCode(ctx, "code-1", testRefresh("rt-1", "user-1", "client-1"))
		require.NoError(t, err)
		assert.True(t, redeemed.Used)
		assert.Equal(t, "user-1", redeemed.UserID)

		rt, err := s.GetRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		assert.False(t, rt.Revoked)

		again, err := s.RedeemAuthorizationCode(ctx, "code-1", testRefresh("rt-2", "user-1", "client-1"))
		require.ErrorIs(t, err, ErrCodeAlreadyUsed)
		require.NotNil(t, again)
		assert.Equal(t, "client-1", again.ClientID)

		_, err = s.GetRefreshToken(ctx, "rt-2")
		requireNotFoundError(t, err)

		got, err = s.GetAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.True(t, got.Used)

		_, err = s.RedeemAuthorizationCode(ctx, "missing", testRefresh("rt-3", "user-1", "client-1"))
		requireNotFoundError(t, err)
	})

	t.Run("ConcurrentRedeemHasOneWinner", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-race")))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			reused    int
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.RedeemAuthorizationCode(ctx, "code-race",
					testRefresh(fmt.Sprintf("rt-race-%d", i), "user-1", "client-1"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrCodeAlreadyUsed):
					reused++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, reused)
	})

	t.Run("RefreshRotation", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-1")))
		_, err := s.RedeemAuthorizationCode(ctx, "code-1", testRefresh("rt-1", "user-1", "client-1"))
		require.NoError(t, err)

		require.NoError(t, s.RotateRefreshToken(ctx, "rt-1", testRefresh("rt-2", "user-1", "client-1")))

		old, err := s.GetRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		assert.True(t, old.Revoked)

		next, err := s.GetRefreshToken(ctx, "rt-2")
		require.NoError(t, err)
		assert.False(t, next.Revoked)
		assert.Equal(t, []string{"read"}, next.Scopes)

		err = s.RotateRefreshToken(ctx, "rt-1", testRefresh("rt-3", "user-1", "client-1"))
		require.ErrorIs(t, err, ErrTokenRevoked)
		_, err = s.GetRefreshToken(ctx, "rt-3")
		requireNotFoundError(t, err)

		requireNotFoundError(t, s.RotateRefreshToken(ctx, "missing", testRefresh("rt-4", "user-1", "client-1")))
	})

	t.Run("RevokeRefreshTokens", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		for i, pair := range [][2]string{
			{"user-1", "client-1"}, {"user-1", "client-1"}, {"user-1", "client-2"}, {"user-2", "client-1"},
		} {
			code := testCode(fmt.Sprintf("code-%d", i))
			code.UserID, code.ClientID = pair[0], pair[1]
			require.NoError(t, s.CreateAuthorizationCode(ctx, code))
			_, err := s.RedeemAuthorizationCode(ctx, code.CodeHash, testRefresh(fmt.Sprintf("rt-%d", i), pair[0], pair[1]))
			require.NoError(t, err)
		}

		require.NoError(t, s.RevokeRefreshToken(ctx, "rt-0"))
		require.NoError(t, s.RevokeRefreshToken(ctx, "rt-0"), "revoking twice is not an error")
		requireNotFoundError(t, s.RevokeRefreshToken(ctx, "missing"))

		n, err := s.RevokeRefreshTokensForUserClient(ctx, "user-1", "client-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "rt-0 was already revoked")

		for hash, want := range map[string]bool{"rt-0": true, "rt-1": true, "rt-2": false, "rt-3": false} {
			rt, err := s.GetRefreshToken(ctx, hash)
			require.NoError(t, err)
			assert.Equal(t, want, rt.Revoked, hash)
		}

		n, err = s.RevokeRefreshTokensForUserClient(ctx, "nobody", "client-1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("PendingConsentTakenOnce", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.StorePendingConsent(ctx, testConsent("consent-1")))
		assert.ErrorIs(t, s.StorePendingConsent(ctx, testConsent("consent-1")), ErrAlreadyExists)

		got, err := s.TakePendingConsent(ctx, "consent-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "xyz", got.State)
		assert.Equal(t, []string{"read", "write"}, got.Scopes)

		_, err = s.TakePendingConsent(ctx, "consent-1")
		requireNotFoundError(t, err)
	})

	t.Run("PurgeExpired", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-live")))
		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-used")))
		_, err := s.RedeemAuthorizationCode(ctx, "code-used", testRefresh("rt-live", "user-1", "client-1"))
		require.NoError(t, err)

		short := testRefresh("rt-short", "user-1", "client-1")
		short.ExpiresAt = baseTime.Add(time.Minute)
		require.NoError(t, s.CreateAuthorizationCode(ctx, testCode("code-short")))
		_, err = s.RedeemAuthorizationCode(ctx, "code-short", short)
		require.NoError(t, err)

		require.NoError(t, s.StorePendingConsent(ctx, testConsent("consent-1")))

		res, err := s.PurgeExpired(ctx, baseTime.Add(5*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, PurgeResult{RefreshTokens: 1}, res)

		_, err = s.GetRefreshToken(ctx, "rt-short")
		requireNotFoundError(t, err)

		// Expiry at exactly now counts as expired.
		res, err = s.PurgeExpired(ctx, baseTime.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 3, res.AuthorizationCodes)
		assert.Equal(t, 1, res.PendingConsents)
		assert.Zero(t, res.RefreshTokens)

		_, err = s.GetAuthorizationCode(ctx, "code-used")
		requireNotFoundError(t, err)
		_, err = s.GetRefreshToken(ctx, "rt-live")
		require.NoError(t, err)

		res, err = s.PurgeExpired(ctx, baseTime.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Zero(t, res.Total(), "purge is idempotent")

		n, err := s.RevokeRefreshTokensForUserClient(ctx, "user-1", "client-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "purged tokens are gone from the pair index")
	})

	t.Run("Ping", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		require.NoError(t, s.Ping(context.Background()))
	})
}
