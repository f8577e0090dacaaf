// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/server/registration"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// maxDCRBodySize is the maximum allowed size for DCR request bodies (64KB).
const maxDCRBodySize = 64 * 1024

// RegisterClientHandler handles POST /oauth/register requests.
// It implements RFC 7591 Dynamic Client Registration for public and
// confidential clients.
func (h *Handler) RegisterClientHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if !h.registerLimiter.Allow() {
		logger.Warnw("dynamic client registration rate limited", "remote_addr", req.RemoteAddr)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:            "too_many_requests",
			ErrorDescription: "registration rate limit exceeded",
		})
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxDCRBodySize)

	contentType := req.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		writeDCRError(w, http.StatusBadRequest, &registration.DCRError{
			Error:            registration.DCRErrorInvalidClientMetadata,
			ErrorDescription: "Content-Type must be application/json",
		})
		return
	}

	var dcrReq registration.DCRRequest
	if err := json.NewDecoder(req.Body).Decode(&dcrReq); err != nil {
		writeDCRError(w, http.StatusBadRequest, &registration.DCRError{
			Error:            registration.DCRErrorInvalidClientMetadata,
			ErrorDescription: "invalid JSON request body",
		})
		return
	}

	resp, err := h.svc.RegisterDynamic(ctx, &dcrReq)
	if err != nil {
		var dcrErr *authserver.DCRError
		if errors.As(err, &dcrErr) {
			writeDCRError(w, http.StatusBadRequest, dcrErr.Body)
			return
		}
		logger.Errorw("failed to register client", "error", err)
		writeDCRError(w, http.StatusInternalServerError, &registration.DCRError{
			Error:            authserver.ErrServerError.String(),
			ErrorDescription: "failed to register client",
		})
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// writeDCRError writes a DCR error response per RFC 7591 Section 3.2.2.
func writeDCRError(w http.ResponseWriter, statusCode int, dcrErr *registration.DCRError) {
	writeJSON(w, statusCode, dcrErr)
}
