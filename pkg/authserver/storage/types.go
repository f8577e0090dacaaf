// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides storage interfaces and implementations for the
// OAuth authorization server.
//
// Every state transition the protocol depends on (marking a code used,
// rotating a refresh token, consuming a pending consent) is a single atomic
// operation of the backend, so two concurrent requests can never both succeed.
package storage

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=types.go Storage

import (
	"context"
	"slices"
	"time"

	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// Client is a registered OAuth client.
type Client struct {
	// ID is the public client identifier. Globally unique.
	ID string `json:"id"`

	// SecretHash is the bcrypt hash of the client secret. Public clients carry
	// the hash of a random placeholder that is never handed out.
	SecretHash []byte `json:"secret_hash,omitempty"`

	Name                    string                  `json:"name"`
	RedirectURIs            []oauth.RedirectPattern `json:"redirect_uris"`
	GrantTypes              []string                `json:"grant_types"`
	ResponseTypes           []string                `json:"response_types"`
	Scopes                  []string                `json:"scopes"`
	TokenEndpointAuthMethod string                  `json:"token_endpoint_auth_method"`

	// Confidential clients must authenticate with their secret at the token endpoint.
	Confidential bool `json:"confidential"`

	// Active is false for deactivated clients, which behave as unknown.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}

// Grant records that a user approved a client for a scope set.
// There is at most one grant per (UserID, ClientID).
type Grant struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthorizationCode is a single-use authorization code. Only the hash of the
// code value is stored.
type AuthorizationCode struct {
	CodeHash            string    `json:"code_hash"`
	UserID              string    `json:"user_id"`
	Username            string    `json:"username"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	Used                bool      `json:"used"`
	CreatedAt           time.Time `json:"created_at"`
}

// IsExpired reports whether the code has expired at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshToken is a rotating refresh token. Only the hash of the token value is stored.
type RefreshToken struct {
	TokenHash string    `json:"token_hash"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the token has expired at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// PendingConsent is an authorization request shown to a user on the consent
// page and awaiting their decision. It is bound to that user and consumed once.
type PendingConsent struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	State               string    `json:"state,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// IsExpired reports whether the consent request has expired at now.
func (p *PendingConsent) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PurgeResult counts the records removed by PurgeExpired.
type PurgeResult struct {
	AuthorizationCodes int
	RefreshTokens      int
	PendingConsents    int
}

// Total returns the number of records removed.
func (r PurgeResult) Total() int {
	return r.AuthorizationCodes + r.RefreshTokens + r.PendingConsents
}

// ClientStore persists OAuth clients.
type ClientStore interface {
	// CreateClient stores a new client. Returns ErrAlreadyExists if the ID is taken.
	CreateClient(ctx context.Context, client *Client) error

	// GetClient returns the client with id, active or not. Returns ErrNotFound if absent.
	GetClient(ctx context.Context, id string) (*Client, error)

	// DeactivateClient clears Active on the client. Deactivating an inactive
	// client is a no-op. Returns ErrNotFound if absent.
	DeactivateClient(ctx context.Context, id string) error
}

// GrantStore persists consent grants.
type GrantStore interface {
	// UpsertGrant creates or replaces the grant for (UserID, ClientID).
	// CreatedAt of an existing grant is preserved.
	UpsertGrant(ctx context.Context, grant *Grant) error

	// GetGrant returns ErrNotFound if the user has not approved the client.
	GetGrant(ctx context.Context, userID, clientID string) (*Grant, error)

	// ListGrants returns all grants of a user ordered by client ID.
	ListGrants(ctx context.Context, userID string) ([]*Grant, error)

	// DeleteGrant removes the grant. Returns ErrNotFound if absent.
	DeleteGrant(ctx context.Context, userID, clientID string) error
}

// AuthorizationCodeStore persists authorization codes.
type AuthorizationCodeStore interface {
	// CreateAuthorizationCode stores a new, unused code.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns the code by hash, including used ones.
	GetAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error)

	// RedeemAuthorizationCode atomically marks the code used and stores the
	// refresh token minted for it. If the code was already used it returns the
	// stored code together with ErrCodeAlreadyUsed and stores nothing.
	RedeemAuthorizationCode(ctx context.Context, codeHash string, refresh *RefreshToken) (*AuthorizationCode, error)
}

// RefreshTokenStore persists refresh tokens.
type RefreshTokenStore interface {
	// GetRefreshToken returns the token by hash, including revoked ones.
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// RotateRefreshToken atomically revokes oldHash and stores next. It returns
	// ErrTokenRevoked if oldHash was already revoked, in which case next is not stored.
	RotateRefreshToken(ctx context.Context, oldHash string, next *RefreshToken) error

	// RevokeRefreshToken revokes a single token. Revoking twice is not an error.
	RevokeRefreshToken(ctx context.Context, tokenHash string) error

	// RevokeRefreshTokensForUserClient revokes every token of the pair and
	// returns how many were newly revoked.
	RevokeRefreshTokensForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// ConsentStore persists consent requests awaiting a user decision.
type ConsentStore interface {
	StorePendingConsent(ctx context.Context, consent *PendingConsent) error

	// TakePendingConsent atomically loads and deletes the consent request.
	TakePendingConsent(ctx context.Context, id string) (*PendingConsent, error)
}

// Storage is the complete persistence contract of the authorization server.
type Storage interface {
	ClientStore
	GrantStore
	AuthorizationCodeStore
	RefreshTokenStore
	ConsentStore

	// PurgeExpired deletes codes, refresh tokens and consent requests whose
	// expiry is at or before now. Safe to run repeatedly and concurrently.
	PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

func cloneClient(c *Client) *Client {
	out := *c
	out.SecretHash = slices.Clone(c.SecretHash)
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.ResponseTypes = slices.Clone(c.ResponseTypes)
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

func cloneGrant(g *Grant) *Grant {
	out := *g
	out.Scopes = slices.Clone(g.Scopes)
	return &out
}

func cloneCode(c *AuthorizationCode) *AuthorizationCode {
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

func cloneRefreshToken(t *RefreshToken) *RefreshToken {
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	return &out
}

func clonePendingConsent(p *PendingConsent) *PendingConsent {
	out := *p
	out.Scopes = slices.Clone(p.Scopes)
	return &out
}
