// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultUserHeader is the header a fronting login proxy sets to the
// authenticated user's ID.
const DefaultUserHeader = "X-Authenticated-User"

// HeaderAuthenticator trusts a header injected by a login proxy in front of
// the server. Only deploy it where clients cannot reach the server directly.
type HeaderAuthenticator struct {
	header string
	lookup UserLookup
}

// NewHeaderAuthenticator returns an authenticator reading header, or
// DefaultUserHeader when header is empty.
func NewHeaderAuthenticator(header string, lookup UserLookup) *HeaderAuthenticator {
	if header == "" {
		header = DefaultUserHeader
	}
	return &HeaderAuthenticator{header: header, lookup: lookup}
}

// Authenticate implements Authenticator. Unknown and inactive users count as
// unauthenticated.
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (*User, error) {
	if u, ok := UserFromContext(r.Context()); ok {
		return u, nil
	}

	id := strings.TrimSpace(r.Header.Get(a.header))
	if id == "" {
		return nil, ErrUnauthenticated
	}

	u, err := a.lookup.LookupUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !u.Active {
		return nil, ErrUnauthenticated
	}
	return u, nil
}

var _ Authenticator = (*HeaderAuthenticator)(nil)
