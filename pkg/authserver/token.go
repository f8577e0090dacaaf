// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	servercrypto "github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/crypto"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/tokens"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// CodeExchangeRequest is an authorization_code grant request (RFC 6749 Section 4.1.3).
type CodeExchangeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

// RefreshRequest is a refresh_token grant request (RFC 6749 Section 6).
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
	Scope        string
}

// RevocationRequest is a token revocation request (RFC 7009 Section 2.1).
type RevocationRequest struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
}

// TokenResponse is the successful token endpoint response (RFC 6749 Section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Principal is the caller identified by a valid access token.
type Principal struct {
	UserID    string
	Username  string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope reports whether the token was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// invalidCode is generic on purpose; the log carries the reason.
func invalidCode() *Error { return newError(ErrInvalidGrant, "authorization code is invalid") }

func invalidRefresh() *Error { return newError(ErrInvalidGrant, "refresh token is invalid") }

// ExchangeCode redeems an authorization code for an access token and a refresh
// token. A code presented a second time revokes every refresh token of its
// (user, client) pair.
func (s *Service) ExchangeCode(ctx context.Context, req CodeExchangeRequest) (*TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "authserver.ExchangeCode",
		trace.WithAttributes(attribute.String("oauth.client_id", req.ClientID)))
	defer span.End()

	client, err := s.authenticateClient(ctx, ClientCredentials{ClientID: req.ClientID, ClientSecret: req.ClientSecret})
	if err != nil {
		return nil, err
	}
	if !slices.Contains(client.GrantTypes, oauth.GrantTypeAuthorizationCode) {
		return nil, newError(ErrUnauthorizedClient, "")
	}
	if req.Code == "" {
		return nil, newError(ErrInvalidRequest, "code is required")
	}

	codeHash := tokens.HashToken(req.Code)
	code, err := s.storage.GetAuthorizationCode(ctx, codeHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debugw("unknown authorization code presented", "client_id", client.ID)
			return nil, invalidCode()
		}
		return nil, serverError(err)
	}
	if code.Used {
		return nil, s.handleCodeReuse(ctx, code)
	}
	if code.IsExpired(s.now()) {
		logger.Debugw("expired authorization code presented", "client_id", client.ID)
		return nil, invalidCode()
	}
	if code.ClientID != client.ID {
		logger.Securityw("code_client_mismatch", "authorization code presented by another client",
			"client_id", client.ID, "code_client_id", code.ClientID)
		return nil, invalidCode()
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, newError(ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, newError(ErrInvalidGrant, "code_verifier is required")
		}
		if !servercrypto.VerifyPKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			logger.Securityw("pkce_mismatch", "PKCE verification failed", "client_id", client.ID)
			return nil, newError(ErrInvalidGrant, "code_verifier does not match the code_challenge")
		}
	}

	user, err := s.activeUser(ctx, code.UserID)
	if err != nil {
		return nil, err
	}

	access, err := s.signAccess(user, client.ID, code.Scopes)
	if err != nil {
		return nil, err
	}
	refresh, record, err := s.newRefreshToken(user, client.ID, code.Scopes)
	if err != nil {
		return nil, err
	}

	if _, err := s.storage.RedeemAuthorizationCode(ctx, codeHash, record); err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeAlreadyUsed):
			// Lost a race with a concurrent redemption of the same code.
			return nil, s.handleCodeReuse(ctx, code)
		case errors.Is(err, storage.ErrNotFound):
			return nil, invalidCode()
		default:
			return nil, serverError(err)
		}
	}

	s.metrics.recordTokenIssued(ctx, client.ID, oauth.GrantTypeAuthorizationCode)
	logger.Infow("exchanged authorization code", "client_id", client.ID, "user_id", user.ID)

	return s.tokenResponse(access, refresh, code.Scopes), nil
}

// handleCodeReuse revokes the pair's refresh tokens after a replayed code.
func (s *Service) handleCodeReuse(ctx context.Context, code *storage.AuthorizationCode) error {
	s.metrics.codeReuse.Add(ctx, 1, metric.WithAttributes(attrClientID.String(code.ClientID)))
	n, err := s.RevokeAllForUserClient(ctx, code.UserID, code.ClientID)
	logger.Securityw("authorization_code_reuse", "authorization code replay detected, revoked refresh tokens",
		"client_id", code.ClientID, "user_id", code.UserID, "revoked_tokens", n)
	if err != nil {
		return serverError(err)
	}
	return invalidCode()
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// access token and refresh token are returned. A narrower scope may be
// requested; a wider one is invalid_scope.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "authserver.Refresh",
		trace.WithAttributes(attribute.String("oauth.client_id", req.ClientID)))
	defer span.End()

	client, err := s.authenticateClient(ctx, ClientCredentials{ClientID: req.ClientID, ClientSecret: req.ClientSecret})
	if err != nil {
		return nil, err
	}
	if !slices.Contains(client.GrantTypes, oauth.GrantTypeRefreshToken) {
		return nil, newError(ErrUnauthorizedClient, "")
	}
	if req.RefreshToken == "" {
		return nil, newError(ErrInvalidRequest, "refresh_token is required")
	}

	oldHash := tokens.HashToken(req.RefreshToken)
	stored, err := s.storage.GetRefreshToken(ctx, oldHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidRefresh()
		}
		return nil, serverError(err)
	}
	switch {
	case stored.Revoked:
		logger.Securityw("refresh_token_reuse", "revoked refresh token presented",
			"client_id", client.ID, "user_id", stored.UserID)
		return nil, invalidRefresh()
	case stored.IsExpired(s.now()):
		logger.Debugw("expired refresh token presented", "client_id", client.ID)
		return nil, invalidRefresh()
	case stored.ClientID != client.ID:
		logger.Securityw("refresh_client_mismatch", "refresh token presented by another client",
			"client_id", client.ID, "token_client_id", stored.ClientID)
		return nil, invalidRefresh()
	}

	scopes := stored.Scopes
	if requested := oauth.ParseScope(req.Scope); len(requested) > 0 {
		if !oauth.ScopeSubset(requested, stored.Scopes) {
			return nil, newError(ErrInvalidScope, "requested scope exceeds the original grant")
		}
		scopes = requested
	}
	if _, ok := ScopesAllowed(client, scopes); !ok {
		return nil, newError(ErrInvalidScope, "requested scope exceeds the scope granted to the client")
	}

	user, err := s.activeUser(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}

	access, err := s.signAccess(user, client.ID, scopes)
	if err != nil {
		return nil, err
	}
	refresh, record, err := s.newRefreshToken(user, client.ID, scopes)
	if err != nil {
		return nil, err
	}
	if err := s.storage.RotateRefreshToken(ctx, oldHash, record); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) || errors.Is(err, storage.ErrNotFound) {
			logger.Securityw("refresh_token_reuse", "concurrent refresh token rotation lost",
				"client_id", client.ID, "user_id", stored.UserID)
			return nil, invalidRefresh()
		}
		return nil, serverError(err)
	}

	s.metrics.refreshRotations.Add(ctx, 1, metric.WithAttributes(attrClientID.String(client.ID)))
	s.metrics.recordTokenIssued(ctx, client.ID, oauth.GrantTypeRefreshToken)
	logger.Debugw("rotated refresh token", "client_id", client.ID, "user_id", user.ID)

	return s.tokenResponse(access, refresh, scopes), nil
}

// RevokeAllForUserClient revokes every refresh token the user holds for the
// client and returns how many were newly revoked.
func (s *Service) RevokeAllForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	n, err := s.storage.RevokeRefreshTokensForUserClient(ctx, userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return n, nil
}

// ValidateBearerToken verifies an access token and resolves its user. It
// returns false for invalid or expired tokens and for unknown or inactive users.
func (s *Service) ValidateBearerToken(ctx context.Context, token string) (*Principal, bool) {
	claims, ok := s.signer.Verify(token)
	if !ok {
		return nil, false
	}
	user, err := s.users.LookupUser(ctx, claims.Subject)
	if err != nil {
		logger.Debugw("access token for unknown user", "user_id", claims.Subject, "error", err)
		return nil, false
	}
	if !user.Active {
		logger.Debugw("access token for inactive user", "user_id", claims.Subject)
		return nil, false
	}

	p := &Principal{
		UserID:   user.ID,
		Username: user.Username,
		ClientID: claims.ClientID,
		Scopes:   oauth.ParseScope(claims.Scope),
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, true
}

// RevokeToken implements RFC 7009. Only refresh tokens owned by the
// authenticated client are revoked. Unknown tokens, access tokens and tokens
// of other clients are accepted without effect, as the RFC requires.
func (s *Service) RevokeToken(ctx context.Context, req RevocationRequest) error {
	client, err := s.authenticateClient(ctx, ClientCredentials{ClientID: req.ClientID, ClientSecret: req.ClientSecret})
	if err != nil {
		return err
	}
	if req.Token == "" {
		return newError(ErrInvalidRequest, "token is required")
	}

	hash := tokens.HashToken(req.Token)
	stored, err := s.storage.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debugw("revocation of unknown or access token ignored",
				"client_id", client.ID, "token_type_hint", req.TokenTypeHint)
			return nil
		}
		return serverError(err)
	}
	if stored.ClientID != client.ID {
		logger.Securityw("revoke_client_mismatch", "client tried to revoke another client's token",
			"client_id", client.ID, "token_client_id", stored.ClientID)
		return nil
	}
	if err := s.storage.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return serverError(err)
	}
	logger.Infow("revoked refresh token", "client_id", client.ID, "user_id", stored.UserID)
	return nil
}

func (s *Service) activeUser(ctx context.Context, userID string) (*identity.User, error) {
	user, err := s.users.LookupUser(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, newError(ErrInvalidGrant, "resource owner no longer exists")
		}
		return nil, serverError(err)
	}
	if !user.Active {
		return nil, newError(ErrInvalidGrant, "resource owner is inactive")
	}
	return user, nil
}

func (s *Service) signAccess(user *identity.User, clientID string, scopes []string) (string, error) {
	claims := tokens.AccessClaims{
		Username: user.Username,
		ClientID: clientID,
		Scope:    oauth.JoinScope(scopes),
	}
	claims.Subject = user.ID
	token, _, err := s.signer.Sign(claims)
	if err != nil {
		return "", serverError(err)
	}
	return token, nil
}

func (s *Service) newRefreshToken(
	user *identity.User, clientID string, scopes []string,
) (string, *storage.RefreshToken, error) {
	token, err := tokens.GenerateOpaqueToken()
	if err != nil {
		return "", nil, serverError(err)
	}
	now := s.now().UTC()
	return token, &storage.RefreshToken{
		TokenHash: tokens.HashToken(token),
		UserID:    user.ID,
		Username:  user.Username,
		ClientID:  clientID,
		Scopes:    slices.Clone(scopes),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}, nil
}

// tokenResponse reports the configured lifetime as expires_in. The JWT exp is
// truncated to whole seconds, so deriving it from exp would drift by one.
func (s *Service) tokenResponse(access, refresh string, scopes []string) *TokenResponse {
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    oauth.TokenTypeBearer,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL / time.Second),
		RefreshToken: refresh,
		Scope:        oauth.JoinScope(scopes),
	}
}
