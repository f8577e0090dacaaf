// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the PKCE (RFC 7636) primitives used when issuing and
// redeeming authorization codes.
package crypto

import (
	"crypto/subtle"
	"errors"
	"regexp"

	"golang.org/x/oauth2"

	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// Verifier length bounds per RFC 7636 Section 4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// ErrUnsupportedChallengeMethod is returned for a code_challenge_method other than plain or S256.
var ErrUnsupportedChallengeMethod = errors.New("unsupported code_challenge_method")

// ErrMissingChallenge is returned when a method is supplied without a challenge.
var ErrMissingChallenge = errors.New("code_challenge_method requires code_challenge")

// unreservedPattern matches the RFC 7636 "unreserved" character set.
var unreservedPattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]+$`)

// GeneratePKCEVerifier generates a cryptographically random code_verifier
// per RFC 7636 Section 4.1. It delegates to oauth2.GenerateVerifier.
func GeneratePKCEVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputePKCEChallenge computes BASE64URL(SHA256(verifier)) per RFC 7636 Section 4.2.
func ComputePKCEChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// NormalizeChallengeMethod validates the authorize-time PKCE parameters and
// returns the effective method. No challenge means no PKCE and an empty method.
// A challenge without a method defaults to plain per RFC 7636 Section 4.3.
func NormalizeChallengeMethod(challenge, method string) (string, error) {
	if challenge == "" {
		if method != "" {
			return "", ErrMissingChallenge
		}
		return "", nil
	}
	switch method {
	case "":
		return oauth.PKCEMethodPlain, nil
	case oauth.PKCEMethodPlain, oauth.PKCEMethodS256:
		return method, nil
	default:
		return "", ErrUnsupportedChallengeMethod
	}
}

// VerifyPKCE reports whether verifier satisfies the stored challenge under method.
// The verifier must be 43 to 128 unreserved characters. Comparison is constant time.
func VerifyPKCE(verifier, challenge, method string) bool {
	if challenge == "" {
		return false
	}
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	if !unreservedPattern.MatchString(verifier) {
		return false
	}

	var computed string
	switch method {
	case oauth.PKCEMethodS256:
		computed = ComputePKCEChallenge(verifier)
	case oauth.PKCEMethodPlain, "":
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
