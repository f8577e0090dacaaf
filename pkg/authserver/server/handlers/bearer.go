// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
)

type principalContextKey struct{}

// PrincipalFromContext returns the caller attached by BearerMiddleware.
func PrincipalFromContext(ctx context.Context) (*authserver.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*authserver.Principal)
	return p, ok && p != nil
}

// BearerMiddleware authenticates resource API requests with access tokens
// issued by svc (RFC 6750). Requests without a valid token get 401
// invalid_token; valid ones carry the Principal in their context.
func BearerMiddleware(svc *authserver.Service) func(http.Handler) http.Handler {
	realm := svc.Config().Issuer
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			token, ok := bearerToken(req)
			if !ok {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", realm))
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_token"})
				return
			}
			principal, ok := svc.ValidateBearerToken(req.Context(), token)
			if !ok {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q, error=\"invalid_token\"", realm))
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_token"})
				return
			}
			ctx := context.WithValue(req.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// RequireScope rejects requests whose principal lacks scope with 403
// insufficient_scope. It must run after BearerMiddleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p, ok := PrincipalFromContext(req.Context())
			if !ok || !p.HasScope(scope) {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer error=\"insufficient_scope\", scope=%q", scope))
				writeJSON(w, http.StatusForbidden, errorResponse{Error: "insufficient_scope"})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func bearerToken(req *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(req.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
