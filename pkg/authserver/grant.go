// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	servercrypto "github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/crypto"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/tokens"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// HasExistingGrant reports whether the user has ever approved the client.
func (s *Service) HasExistingGrant(ctx context.Context, userID, clientID string) (bool, error) {
	_, err := s.storage.GetGrant(ctx, userID, clientID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to load grant: %w", err)
}

// GrantCovers reports whether the user approved the client for every scope in
// scopes. The authorize endpoint only skips the consent page when this holds.
func (s *Service) GrantCovers(ctx context.Context, userID, clientID string, scopes []string) (bool, error) {
	grant, err := s.storage.GetGrant(ctx, userID, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load grant: %w", err)
	}
	return oauth.ScopeSubset(scopes, grant.Scopes), nil
}

// RecordGrant stores the user's approval of scopes for the client. Repeated
// calls replace the scope set and keep the original creation time.
func (s *Service) RecordGrant(ctx context.Context, userID, clientID string, scopes []string) error {
	now := s.now().UTC()
	err := s.storage.UpsertGrant(ctx, &storage.Grant{
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    slices.Clone(scopes),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to record grant: %w", err)
	}
	return nil
}

// RevokeGrant disconnects the client from the user: every refresh token of
// the pair is revoked and the grant is deleted. A missing grant yields an
// error matching storage.ErrNotFound.
func (s *Service) RevokeGrant(ctx context.Context, userID, clientID string) error {
	n, err := s.storage.RevokeRefreshTokensForUserClient(ctx, userID, clientID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	if err := s.storage.DeleteGrant(ctx, userID, clientID); err != nil {
		return err
	}
	logger.Infow("revoked client authorization", "user_id", userID, "client_id", clientID, "revoked_tokens", n)
	return nil
}

// AuthorizedClient is a client the user has approved.
type AuthorizedClient struct {
	ClientID   string    `json:"client_id"`
	ClientName string    `json:"client_name"`
	Scopes     []string  `json:"scopes"`
	GrantedAt  time.Time `json:"granted_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListGrants returns the clients the user has approved, ordered by client id.
// Clients that no longer exist are reported by id.
func (s *Service) ListGrants(ctx context.Context, userID string) ([]AuthorizedClient, error) {
	grants, err := s.storage.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}

	out := make([]AuthorizedClient, 0, len(grants))
	for _, g := range grants {
		name := g.ClientID
		client, err := s.storage.GetClient(ctx, g.ClientID)
		switch {
		case err == nil && client.Name != "":
			name = client.Name
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to load client %q: %w", g.ClientID, err)
		}
		out = append(out, AuthorizedClient{
			ClientID:   g.ClientID,
			ClientName: name,
			Scopes:     g.Scopes,
			GrantedAt:  g.CreatedAt,
			UpdatedAt:  g.UpdatedAt,
		})
	}
	return out, nil
}

// ScopeView is one line of the consent page.
type ScopeView struct {
	Name        string
	Description string
}

// ConsentView is the data rendered by the consent page.
type ConsentView struct {
	ConsentID  string
	ClientID   string
	ClientName string
	Username   string
	Scopes     []ScopeView

	// ExpandsGrant is set when the user already approved this client for a
	// narrower set of scopes.
	ExpandsGrant bool
}

// BuildConsent assembles the consent page model for scopes.
func (s *Service) BuildConsent(user *identity.User, client *storage.Client, consentID string, scopes []string) ConsentView {
	name := client.Name
	if name == "" {
		name = client.ID
	}
	view := ConsentView{
		ConsentID:  consentID,
		ClientID:   client.ID,
		ClientName: name,
		Scopes:     make([]ScopeView, 0, len(scopes)),
	}
	if user != nil {
		view.Username = user.Username
	}
	for _, scope := range scopes {
		view.Scopes = append(view.Scopes, ScopeView{Name: scope, Description: s.ScopeDescription(scope)})
	}
	return view
}

// BeginConsent stores a validated authorization request while the user
// decides. The returned consent's ID is the only handle to it.
func (s *Service) BeginConsent(
	ctx context.Context, user *identity.User, client *storage.Client, req AuthorizationRequest, scopes []string,
) (*storage.PendingConsent, error) {
	id, err := tokens.GenerateOpaqueToken()
	if err != nil {
		return nil, serverError(err)
	}
	method, err := servercrypto.NormalizeChallengeMethod(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidRequest, Description: err.Error(), cause: err}
	}

	now := s.now().UTC()
	consent := &storage.PendingConsent{
		ID:                  id,
		UserID:              user.ID,
		ClientID:            client.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              slices.Clone(scopes),
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
		CreatedAt:           now,
	}
	if err := s.storage.StorePendingConsent(ctx, consent); err != nil {
		return nil, serverError(err)
	}
	return consent, nil
}

// CompleteConsent consumes the pending consent id on behalf of user and
// re-checks that the client and redirect URI are still acceptable. A consent
// can be completed once; unknown, expired or foreign consents are invalid_request.
func (s *Service) CompleteConsent(
	ctx context.Context, user *identity.User, id string,
) (*storage.PendingConsent, *storage.Client, error) {
	if id == "" {
		return nil, nil, newError(ErrInvalidRequest, "consent_id is required")
	}
	consent, err := s.storage.TakePendingConsent(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, newError(ErrInvalidRequest, "unknown or expired consent request")
		}
		return nil, nil, serverError(err)
	}
	if consent.IsExpired(s.now()) {
		return nil, nil, newError(ErrInvalidRequest, "unknown or expired consent request")
	}
	if consent.UserID != user.ID {
		logger.Securityw("consent_user_mismatch", "consent submitted by a different user",
			"client_id", consent.ClientID, "user_id", user.ID)
		return nil, nil, newError(ErrInvalidRequest, "unknown or expired consent request")
	}

	client, err := s.FindActiveByID(ctx, consent.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, &Error{Kind: ErrInvalidClient, Description: "unknown client", cause: err}
		}
		return nil, nil, serverError(err)
	}
	if !IsRedirectURIAllowed(client, consent.RedirectURI) {
		return nil, nil, newError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}
	if _, ok := ScopesAllowed(client, consent.Scopes); !ok {
		return consent, client, newError(ErrInvalidScope, "")
	}
	return consent, client, nil
}
