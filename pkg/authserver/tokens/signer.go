// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokens

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// MinSecretLength is the minimum HMAC secret length in bytes (256 bits for HS256).
const MinSecretLength = 32

var (
	// ErrWeakSigningKey is returned when the signing secret is shorter than MinSecretLength.
	ErrWeakSigningKey = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)

	// ErrMissingIssuer is returned when no issuer is configured.
	ErrMissingIssuer = errors.New("issuer is required")

	// ErrInvalidTTL is returned for a non-positive access token lifetime.
	ErrInvalidTTL = errors.New("access token lifetime must be positive")
)

// AccessClaims are the claims carried by an access token. Subject holds the user id.
type AccessClaims struct {
	Username string `json:"username,omitempty"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and verifies HS256 access tokens for a single issuer.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// WithLogger sets the logger used to report rejected tokens.
func WithLogger(l *slog.Logger) SignerOption {
	return func(s *Signer) { s.logger = l }
}

// NewSigner validates the key material and returns a Signer. A weak or
// missing secret is a configuration error and must stop startup.
func NewSigner(secret []byte, issuer string, ttl time.Duration, opts ...SignerOption) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSigningKey
	}
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	s := &Signer{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the access token lifetime.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issuer returns the issuer stamped into every token.
func (s *Signer) Issuer() string { return s.issuer }

// Sign returns a signed token for claims and its expiry. Issuer, issued-at,
// expiry and token id are always set by the signer, overriding any values in claims.
func (s *Signer) Sign(claims AccessClaims) (string, time.Time, error) {
	if claims.Subject == "" {
		return "", time.Time{}, errors.New("access token subject is required")
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims.Issuer = s.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm, issuer and expiry. It returns the claims
// and true on success, or nil and false for any invalid token. Expired tokens
// are logged at debug level and all other failures at warn level.
func (s *Signer) Verify(token string) (*AccessClaims, bool) {
	if token == "" {
		return nil, false
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			s.logger.Debug("access token expired", "error", err.Error())
		} else {
			s.logger.Warn("invalid access token", "error", err.Error())
		}
		return nil, false
	}
	if claims.Subject == "" {
		s.logger.Warn("access token without subject")
		return nil, false
	}
	return claims, true
}
