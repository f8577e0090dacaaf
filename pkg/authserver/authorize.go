// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"slices"

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

// AuthorizationRequest holds the query parameters of an authorization request
// (RFC 6749 Section 4.1.1 and RFC 7636 Section 4.3).
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizationRequest checks req and returns the client and the
// effective scopes.
//
// Checks run in order: client, redirect_uri, response_type, PKCE parameters,
// scope. When the error comes from a check after redirect_uri, the client is
// returned together with the error so the caller can report the error to the
// client's redirect URI. A nil client with an error means the redirect target
// is not trustworthy and the error must be shown to the user instead.
func (s *Service) ValidateAuthorizationRequest(
	ctx context.Context, req AuthorizationRequest,
) (*storage.Client, []string, error) {
	ctx, span := s.tracer.Start(ctx, "authserver.ValidateAuthorizationRequest",
		trace.WithAttributes(attribute.String("oauth.client_id", req.ClientID)))
	defer span.End()

	if req.ClientID == "" {
		return nil, nil, newError(ErrInvalidRequest, "client_id is required")
	}
	client, err := s.FindActiveByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, &Error{Kind: ErrInvalidClient, Description: "unknown client", cause: err}
		}
		return nil, nil, serverError(err)
	}

	if req.RedirectURI == "" {
		return nil, nil, newError(ErrInvalidRequest, "redirect_uri is required")
	}
	if !IsRedirectURIAllowed(client, req.RedirectURI) {
		logger.Warnw("authorization request with unregistered redirect_uri",
			"client_id", client.ID, "redirect_uri", req.RedirectURI)
		return nil, nil, newError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}

	if req.ResponseType != oauth.ResponseTypeCode {
		return client, nil, newError(ErrUnsupportedResponseType, "response_type must be 'code'")
	}
	if !slices.Contains(client.ResponseTypes, oauth.ResponseTypeCode) ||
		!slices.Contains(client.GrantTypes, oauth.GrantTypeAuthorizationCode) {
		return client, nil, newError(ErrUnauthorizedClient, "")
	}

	if _, err := servercrypto.NormalizeChallengeMethod(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return client, nil, &Error{Kind: ErrInvalidRequest, Description: err.Error(), cause: err}
	}

	scopes, ok := ScopesAllowed(client, oauth.ParseScope(req.Scope))
	if !ok {
		return client, nil, newError(ErrInvalidScope, "requested scope exceeds the scope granted to the client")
	}
	if len(scopes) == 0 {
		return client, nil, newError(ErrInvalidScope, "client has no scopes")
	}

	return client, scopes, nil
}

// IssueCodeParams are the validated parameters bound into a new code.
type IssueCodeParams struct {
	Scopes              []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
}

// IssueCode records the user's grant for the client and returns a new
// single-use authorization code. Only the code's hash is stored.
func (s *Service) IssueCode(
	ctx context.Context, user *identity.User, client *storage.Client, params IssueCodeParams,
) (string, error) {
	ctx, span := s.tracer.Start(ctx, "authserver.IssueCode",
		trace.WithAttributes(attribute.String("oauth.client_id", client.ID)))
	defer span.End()

	if user == nil || user.ID == "" {
		return "", newError(ErrAccessDenied, "user is not authenticated")
	}
	if !IsRedirectURIAllowed(client, params.RedirectURI) {
		return "", newError(ErrInvalidRequest, "redirect_uri is not registered for this client")
	}
	scopes, ok := ScopesAllowed(client, params.Scopes)
	if !ok || len(scopes) == 0 {
		return "", newError(ErrInvalidScope, "")
	}
	method, err := servercrypto.NormalizeChallengeMethod(params.CodeChallenge, params.CodeChallengeMethod)
	if err != nil {
		return "", &Error{Kind: ErrInvalidRequest, Description: err.Error(), cause: err}
	}

	if err := s.RecordGrant(ctx, user.ID, client.ID, scopes); err != nil {
		return "", serverError(err)
	}

	code, err := tokens.GenerateOpaqueToken()
	if err != nil {
		return "", serverError(err)
	}
	now := s.now().UTC()
	record := &storage.AuthorizationCode{
		CodeHash:            tokens.HashToken(code),
		UserID:              user.ID,
		Username:            user.Username,
		ClientID:            client.ID,
		RedirectURI:         params.RedirectURI,
		Scopes:              scopes,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
		CreatedAt:           now,
	}
	if err := s.storage.CreateAuthorizationCode(ctx, record); err != nil {
		return "", serverError(fmt.Errorf("failed to store authorization code: %w", err))
	}

	s.metrics.codesIssued.Add(ctx, 1, metric.WithAttributes(attrClientID.String(client.ID)))
	logger.Debugw("issued authorization code", "client_id", client.ID, "user_id", user.ID, "pkce", method != "")
	return code, nil
}
