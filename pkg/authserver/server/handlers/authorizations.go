// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

type authorizationsResponse struct {
	Authorizations any `json:"authorizations"`
}

// ListAuthorizationsHandler handles GET /oauth/authorizations. It lists the
// clients the signed-in user has approved.
func (h *Handler) ListAuthorizationsHandler(w http.ResponseWriter, req *http.Request) {
	user, ok := h.requireUser(w, req)
	if !ok {
		return
	}

	grants, err := h.svc.ListGrants(req.Context(), user.ID)
	if err != nil {
		logger.Errorw("failed to list authorizations", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, authorizationsResponse{Authorizations: grants})
}

// RevokeAuthorizationHandler handles DELETE /oauth/authorizations/{clientID}.
// It disconnects the client: its refresh tokens for the user are revoked and
// it must ask for consent again.
func (h *Handler) RevokeAuthorizationHandler(w http.ResponseWriter, req *http.Request) {
	user, ok := h.requireUser(w, req)
	if !ok {
		return
	}
	clientID := chi.URLParam(req, "clientID")

	if err := h.svc.RevokeGrant(req.Context(), user.ID, clientID); err != nil {
		code := httperr.Code(err)
		if code == http.StatusNotFound {
			writeJSON(w, code, errorResponse{Error: "not_found", ErrorDescription: "no authorization for this client"})
			return
		}
		logger.Errorw("failed to revoke authorization", "user_id", user.ID, "client_id", clientID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "server_error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireUser(w http.ResponseWriter, req *http.Request) (*identity.User, bool) {
	user, err := h.auth.Authenticate(req)
	if err == nil {
		return user, true
	}
	if errors.Is(err, identity.ErrUnauthenticated) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", ErrorDescription: "sign in required"})
		return nil, false
	}
	logger.Errorw("failed to authenticate user", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "server_error"})
	return nil, false
}
