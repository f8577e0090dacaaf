// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity is the boundary between the authorization server and the
// user subsystem that owns accounts and login sessions.
//
// The authorization server never authenticates passwords itself. It asks an
// Authenticator who is behind a browser request and uses a UserLookup to
// re-check a user when validating access tokens.
package identity

//go:generate mockgen -destination=mocks/mock_identity.go -package=mocks -source=identity.go UserLookup,Authenticator

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated is returned by an Authenticator when the request
	// carries no logged-in user.
	ErrUnauthenticated = errors.New("no authenticated user")

	// ErrUserNotFound is returned by a UserLookup for unknown user IDs.
	ErrUserNotFound = errors.New("user not found")
)

// User is the resource owner as seen by the authorization server.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Active   bool   `json:"active" yaml:"active"`
}

// UserLookup resolves a user by ID.
type UserLookup interface {
	LookupUser(ctx context.Context, id string) (*User, error)
}

// Authenticator identifies the logged-in user behind a browser request.
type Authenticator interface {
	// Authenticate returns ErrUnauthenticated when nobody is logged in.
	Authenticate(r *http.Request) (*User, error)
}

type userContextKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*User)
	return user, ok && user != nil
}
