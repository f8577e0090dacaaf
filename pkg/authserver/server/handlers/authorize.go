// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// Consent form decisions.
const (
	decisionApprove = "approve"
	decisionDeny    = "deny"
)

const errorPagePath = "/oauth/error"

func authorizationRequestFromQuery(q url.Values) authserver.AuthorizationRequest {
	return authserver.AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
}

// AuthorizeHandler handles GET /oauth/authorize requests.
// It validates the request, sends anonymous users to the login page, and
// either issues a code straight away when an earlier grant covers the
// requested scopes or shows the consent page.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	areq := authorizationRequestFromQuery(req.URL.Query())

	client, scopes, err := h.svc.ValidateAuthorizationRequest(ctx, areq)
	if err != nil {
		h.authorizeError(w, req, client, areq.RedirectURI, areq.State, err)
		return
	}

	user, err := h.auth.Authenticate(req)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthenticated) {
			h.redirectToLogin(w, req)
			return
		}
		h.authorizeError(w, req, client, areq.RedirectURI, areq.State, err)
		return
	}

	covers, err := h.svc.GrantCovers(ctx, user.ID, client.ID, scopes)
	if err != nil {
		h.authorizeError(w, req, client, areq.RedirectURI, areq.State, err)
		return
	}
	if covers {
		logger.Debugw("existing grant covers request, skipping consent", "client_id", client.ID, "user_id", user.ID)
		h.issueAndRedirect(w, req, user, client, authserver.IssueCodeParams{
			Scopes:              scopes,
			RedirectURI:         areq.RedirectURI,
			CodeChallenge:       areq.CodeChallenge,
			CodeChallengeMethod: areq.CodeChallengeMethod,
		}, areq.State)
		return
	}

	existing, err := h.svc.HasExistingGrant(ctx, user.ID, client.ID)
	if err != nil {
		h.authorizeError(w, req, client, areq.RedirectURI, areq.State, err)
		return
	}

	consent, err := h.svc.BeginConsent(ctx, user, client, areq, scopes)
	if err != nil {
		h.authorizeError(w, req, client, areq.RedirectURI, areq.State, err)
		return
	}
	view := h.svc.BuildConsent(user, client, consent.ID, scopes)
	view.ExpandsGrant = existing
	render(w, http.StatusOK, h.pages.consent, view)
}

// ConsentHandler handles POST /oauth/authorize, the consent form submission.
func (h *Handler) ConsentHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	req.Body = http.MaxBytesReader(w, req.Body, maxFormBodySize)
	if err := req.ParseForm(); err != nil {
		h.renderError(w, authserver.NewError(authserver.ErrInvalidRequest, "malformed consent form"))
		return
	}

	user, err := h.auth.Authenticate(req)
	if err != nil {
		if errors.Is(err, identity.ErrUnauthenticated) {
			e := authserver.NewError(authserver.ErrAccessDenied, "you must be signed in to approve this request")
			render(w, http.StatusUnauthorized, h.pages.error, errorPage{Error: e.Code(), Description: e.Description})
			return
		}
		h.renderError(w, err)
		return
	}

	consent, client, err := h.svc.CompleteConsent(ctx, user, req.PostForm.Get("consent_id"))
	if err != nil {
		if consent == nil || client == nil {
			h.renderError(w, err)
			return
		}
		h.authorizeError(w, req, client, consent.RedirectURI, consent.State, err)
		return
	}

	switch req.PostForm.Get("decision") {
	case decisionApprove:
		h.issueAndRedirect(w, req, user, client, authserver.IssueCodeParams{
			Scopes:              consent.Scopes,
			RedirectURI:         consent.RedirectURI,
			CodeChallenge:       consent.CodeChallenge,
			CodeChallengeMethod: consent.CodeChallengeMethod,
		}, consent.State)
	case decisionDeny:
		logger.Infow("user denied authorization", "client_id", client.ID, "user_id", user.ID)
		h.authorizeError(w, req, client, consent.RedirectURI, consent.State,
			authserver.NewError(authserver.ErrAccessDenied, "the user denied the request"))
	default:
		h.authorizeError(w, req, client, consent.RedirectURI, consent.State,
			authserver.NewError(authserver.ErrInvalidRequest, "decision must be approve or deny"))
	}
}

// ErrorPageHandler handles GET /oauth/error. It shows authorization errors
// that cannot be returned to the client because no trusted redirect URI exists.
func (h *Handler) ErrorPageHandler(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	page := errorPage{Error: q.Get("error"), Description: q.Get("error_description")}
	if page.Error == "" {
		page.Error = authserver.ErrInvalidRequest.String()
	}
	render(w, http.StatusBadRequest, h.pages.error, page)
}

func (h *Handler) issueAndRedirect(
	w http.ResponseWriter, req *http.Request,
	user *identity.User, client *storage.Client,
	params authserver.IssueCodeParams, state string,
) {
	code, err := h.svc.IssueCode(req.Context(), user, client, params)
	if err != nil {
		h.authorizeError(w, req, client, params.RedirectURI, state, err)
		return
	}
	target, err := withQuery(params.RedirectURI, url.Values{"code": {code}, "state": {state}})
	if err != nil {
		h.renderError(w, err)
		return
	}
	http.Redirect(w, req, target, http.StatusFound)
}

// authorizeError reports err to the client's redirect URI when the client and
// redirect URI were validated, and to the local error page otherwise.
func (h *Handler) authorizeError(
	w http.ResponseWriter, req *http.Request, client *storage.Client, redirectURI, state string, err error,
) {
	e := authserver.AsError(err)
	if e.Kind == authserver.ErrServerError {
		logger.Errorw("authorization request failed", "error", err)
	}

	if client == nil {
		target, _ := withQuery(errorPagePath, url.Values{
			"error":             {e.Code()},
			"error_description": {e.Description},
		})
		http.Redirect(w, req, target, http.StatusFound)
		return
	}

	target, buildErr := withQuery(redirectURI, url.Values{
		"error":             {e.Code()},
		"error_description": {e.Description},
		"state":             {state},
	})
	if buildErr != nil {
		h.renderError(w, e)
		return
	}
	http.Redirect(w, req, target, http.StatusFound)
}

// renderError shows err on the local error page.
func (h *Handler) renderError(w http.ResponseWriter, err error) {
	e := authserver.AsError(err)
	if e.Kind == authserver.ErrServerError {
		logger.Errorw("authorization request failed", "error", err)
	}
	render(w, e.Kind.HTTPStatus(), h.pages.error, errorPage{Error: e.Code(), Description: e.Description})
}

// redirectToLogin sends the browser to the login page, which returns to the
// original authorization request after sign-in.
func (h *Handler) redirectToLogin(w http.ResponseWriter, req *http.Request) {
	target, err := withQuery(h.svc.Config().LoginURL, url.Values{"return_to": {req.URL.RequestURI()}})
	if err != nil {
		h.renderError(w, err)
		return
	}
	http.Redirect(w, req, target, http.StatusFound)
}
