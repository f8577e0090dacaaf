// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
)

const (
	// DefaultRegisterRate is the sustained rate of dynamic client registrations.
	DefaultRegisterRate = rate.Limit(1)

	// DefaultRegisterBurst is the registration burst size.
	DefaultRegisterBurst = 10

	// maxFormBodySize caps form bodies posted to the token, revoke and consent endpoints.
	maxFormBodySize = 64 * 1024
)

// Handler provides HTTP handlers for the OAuth authorization server endpoints.
type Handler struct {
	svc             *authserver.Service
	auth            identity.Authenticator
	registerLimiter *rate.Limiter
	pages           *pages
}

// Option configures a Handler.
type Option func(*Handler)

// WithRegisterLimit sets the rate limit for POST /oauth/register.
// A limit of rate.Inf disables limiting.
func WithRegisterLimit(limit rate.Limit, burst int) Option {
	return func(h *Handler) {
		h.registerLimiter = rate.NewLimiter(limit, burst)
	}
}

// NewHandler creates a new Handler. auth identifies the logged-in user behind
// browser requests to the authorize and authorizations endpoints.
func NewHandler(svc *authserver.Service, auth identity.Authenticator, opts ...Option) *Handler {
	h := &Handler{
		svc:             svc,
		auth:            auth,
		registerLimiter: rate.NewLimiter(DefaultRegisterRate, DefaultRegisterBurst),
		pages:           mustParsePages(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a router with all OAuth endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	return r
}

// OAuthRoutes registers the OAuth endpoints on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get("/oauth/authorize", h.AuthorizeHandler)
	r.Post("/oauth/authorize", h.ConsentHandler)
	r.Get("/oauth/error", h.ErrorPageHandler)
	r.Post("/oauth/token", h.TokenHandler)
	r.Post("/oauth/revoke", h.RevokeHandler)
	r.Post("/oauth/register", h.RegisterClientHandler)
	r.Get("/oauth/authorizations", h.ListAuthorizationsHandler)
	r.Delete("/oauth/authorizations/{clientID}", h.RevokeAuthorizationHandler)
}

// WellKnownRoutes registers the RFC 8414 discovery endpoint on the provided router.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", h.OAuthDiscoveryHandler)
}
