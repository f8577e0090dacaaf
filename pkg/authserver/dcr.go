// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/registration"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// DCRError is returned by RegisterDynamic for requests rejected under RFC 7591.
type DCRError struct {
	Body *registration.DCRError
}

func (e *DCRError) Error() string {
	if e.Body.ErrorDescription != "" {
		return e.Body.Error + ": " + e.Body.ErrorDescription
	}
	return e.Body.Error
}

// RegisterDynamic registers a client through RFC 7591 Dynamic Client
// Registration. Validation failures are returned as *DCRError; anything else
// is a server error.
func (s *Service) RegisterDynamic(ctx context.Context, req *registration.DCRRequest) (*registration.DCRResponse, error) {
	validated, dcrErr := registration.ValidateDCRRequest(req)
	if dcrErr != nil {
		logger.Debugw("rejected dynamic client registration", "error", dcrErr.Error, "description", dcrErr.ErrorDescription)
		return nil, &DCRError{Body: dcrErr}
	}
	scopes, dcrErr := registration.ValidateScopes(validated.Scope, s.cfg.SupportedScopes(), s.cfg.DefaultScopes)
	if dcrErr != nil {
		return nil, &DCRError{Body: dcrErr}
	}

	id := newDynamicClientID()
	name := validated.ClientName
	if name == "" {
		name = "Dynamic Client " + id[4:12]
	}

	registered, err := s.Register(ctx, ClientRegistration{
		ID:                      id,
		Name:                    name,
		RedirectURIs:            validated.RedirectURIs,
		GrantTypes:              validated.GrantTypes,
		ResponseTypes:           validated.ResponseTypes,
		Scopes:                  scopes,
		TokenEndpointAuthMethod: validated.TokenEndpointAuthMethod,
	})
	if err != nil {
		var protoErr *Error
		if errors.As(err, &protoErr) && protoErr.Kind != ErrServerError {
			return nil, &DCRError{Body: &registration.DCRError{
				Error:            registration.DCRErrorInvalidClientMetadata,
				ErrorDescription: protoErr.Description,
			}}
		}
		return nil, err
	}

	client := registered.Client
	resp := &registration.DCRResponse{
		ClientID:                client.ID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            oauth.RedirectPatternStrings(client.RedirectURIs),
		ClientName:              client.Name,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   oauth.JoinScope(client.Scopes),
	}
	if registered.Secret != "" {
		var never int64
		resp.ClientSecret = registered.Secret
		resp.ClientSecretExpiresAt = &never
	}
	return resp, nil
}
