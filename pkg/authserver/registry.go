// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/tokens"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// ClientRegistration describes a client to register.
type ClientRegistration struct {
	// ID is generated when empty.
	ID   string
	Name string

	RedirectURIs  []string
	GrantTypes    []string
	ResponseTypes []string

	// Scopes defaults to the configured default scopes.
	Scopes []string

	// TokenEndpointAuthMethod defaults to "none", which registers a public client.
	TokenEndpointAuthMethod string

	// Secret is used for confidential clients instead of a generated one.
	Secret string
}

// RegisteredClient is the result of a registration. Secret is the only time
// the plaintext secret of a confidential client is available.
type RegisteredClient struct {
	Client *storage.Client
	Secret string
}

// ClientCredentials are the client authentication parameters of a token or
// revocation request, from the form body or HTTP Basic.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Register validates reg and stores a new client. Invalid redirect URIs or
// unsupported scopes are invalid_request; a duplicate id is invalid_request
// wrapping storage.ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, reg ClientRegistration) (*RegisteredClient, error) {
	id := reg.ID
	if id == "" {
		id = newDynamicClientID()
	}

	patterns, err := oauth.ParseRedirectPatterns(reg.RedirectURIs)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidRequest, Description: "invalid redirect_uri: " + err.Error(), cause: err}
	}
	if len(patterns) == 0 {
		return nil, newError(ErrInvalidRequest, "at least one redirect_uri is required")
	}

	scopes := reg.Scopes
	if len(scopes) == 0 {
		scopes = slices.Clone(s.cfg.DefaultScopes)
	}
	if !oauth.ScopeSubset(scopes, s.cfg.SupportedScopes()) {
		return nil, newError(ErrInvalidScope, "requested scope is not supported")
	}

	authMethod := reg.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = oauth.TokenEndpointAuthMethodNone
	}
	confidential := authMethod != oauth.TokenEndpointAuthMethodNone

	grantTypes := reg.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken}
	}
	responseTypes := reg.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{oauth.ResponseTypeCode}
	}

	// Public clients get the hash of a random value nobody ever sees, so the
	// stored record never carries an empty hash.
	secret := reg.Secret
	if secret == "" {
		secret, err = tokens.GenerateOpaqueToken()
		if err != nil {
			return nil, serverError(err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, serverError(fmt.Errorf("failed to hash client secret: %w", err))
	}

	client := &storage.Client{
		ID:                      id,
		SecretHash:              hash,
		Name:                    reg.Name,
		RedirectURIs:            patterns,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scopes:                  scopes,
		TokenEndpointAuthMethod: authMethod,
		Confidential:            confidential,
		Active:                  true,
		CreatedAt:               s.now().UTC(),
	}
	if err := s.storage.CreateClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, &Error{Kind: ErrInvalidRequest, Description: "client id already registered", cause: err}
		}
		return nil, serverError(err)
	}

	s.metrics.clientsRegistered.Add(ctx, 1, metric.WithAttributes(attrClientID.String(id)))
	logger.Infow("registered OAuth client", "client_id", id, "confidential", confidential)

	out := &RegisteredClient{Client: client}
	if confidential {
		out.Secret = secret
	}
	return out, nil
}

// FindActiveByID returns the client, treating inactive clients as unknown.
// Unknown clients yield an error matching storage.ErrNotFound.
func (s *Service) FindActiveByID(ctx context.Context, id string) (*storage.Client, error) {
	if id == "" {
		return nil, fmt.Errorf("empty client id: %w", storage.ErrNotFound)
	}
	client, err := s.storage.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, fmt.Errorf("client %q is inactive: %w", id, storage.ErrNotFound)
	}
	return client, nil
}

// DeactivateClient disables a client. It can no longer start authorizations,
// redeem codes or refresh tokens, and EnsureStaticClients leaves it disabled.
// Unknown clients yield an error matching storage.ErrNotFound.
func (s *Service) DeactivateClient(ctx context.Context, id string) error {
	if err := s.storage.DeactivateClient(ctx, id); err != nil {
		return fmt.Errorf("failed to deactivate client %q: %w", id, err)
	}
	logger.Infow("deactivated client", "client_id", id)
	return nil
}

// IsRedirectURIAllowed reports whether uri matches one of the client's
// registered redirect patterns.
func IsRedirectURIAllowed(client *storage.Client, uri string) bool {
	return client != nil && oauth.AnyMatches(client.RedirectURIs, uri)
}

// ScopesAllowed resolves the effective scopes for a request. An empty request
// yields every scope the client holds. It returns false when requested asks
// for more than the client holds.
func ScopesAllowed(client *storage.Client, requested []string) ([]string, bool) {
	if len(requested) == 0 {
		return slices.Clone(client.Scopes), true
	}
	if !oauth.ScopeSubset(requested, client.Scopes) {
		return nil, false
	}
	return slices.Clone(requested), true
}

// EnsureStaticClients registers every configured static client that does not
// exist yet. Existing clients are left untouched, so the call is idempotent.
func (s *Service) EnsureStaticClients(ctx context.Context) error {
	for _, cc := range s.cfg.StaticClients {
		_, err := s.storage.GetClient(ctx, cc.ID)
		if err == nil {
			logger.Debugw("static client already registered", "client_id", cc.ID)
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to look up static client %q: %w", cc.ID, err)
		}

		reg := ClientRegistration{
			ID:           cc.ID,
			Name:         cc.Name,
			RedirectURIs: cc.RedirectURIs,
			Scopes:       cc.Scopes,
			Secret:       cc.Secret,
		}
		if cc.Secret != "" {
			reg.TokenEndpointAuthMethod = oauth.TokenEndpointAuthMethodClientSecretBasic
		}
		if _, err := s.Register(ctx, reg); err != nil {
			// Another replica may have won the race.
			if errors.Is(err, storage.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("failed to register static client %q: %w", cc.ID, err)
		}
		logger.Infow("registered static client", "client_id", cc.ID)
	}
	return nil
}

// authenticateClient resolves the client of a token or revocation request.
// Unknown and inactive clients, and confidential clients without a matching
// secret, are invalid_client. A secret sent by a public client is ignored.
func (s *Service) authenticateClient(ctx context.Context, creds ClientCredentials) (*storage.Client, error) {
	if creds.ClientID == "" {
		return nil, newError(ErrInvalidClient, "client_id is required")
	}
	client, err := s.FindActiveByID(ctx, creds.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &Error{Kind: ErrInvalidClient, Description: "unknown client", cause: err}
		}
		return nil, serverError(err)
	}
	if !client.Confidential {
		return client, nil
	}
	if creds.ClientSecret == "" {
		return nil, newError(ErrInvalidClient, "client authentication required")
	}
	if err := bcrypt.CompareHashAndPassword(client.SecretHash, []byte(creds.ClientSecret)); err != nil {
		logger.Securityw("client_auth_failed", "client secret mismatch", "client_id", client.ID)
		return nil, newError(ErrInvalidClient, "client authentication failed")
	}
	return client, nil
}

// newDynamicClientID returns "dyn_" followed by 16 hex characters.
func newDynamicClientID() string {
	return "dyn_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
