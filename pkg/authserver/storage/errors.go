// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = httperr.WithCode(
		errors.New("record not found"),
		http.StatusNotFound,
	)

	// ErrAlreadyExists is returned when a record with the same key already exists.
	ErrAlreadyExists = httperr.WithCode(
		errors.New("record already exists"),
		http.StatusConflict,
	)

	// ErrCodeAlreadyUsed is returned by RedeemAuthorizationCode for a code that
	// was redeemed before.
	ErrCodeAlreadyUsed = errors.New("authorization code already used")

	// ErrTokenRevoked is returned by RotateRefreshToken for a token that was
	// revoked before, including by a concurrent rotation.
	ErrTokenRevoked = errors.New("refresh token revoked")

	// errNilRecord is returned when a nil record is passed to a write method.
	errNilRecord = errors.New("record cannot be nil")
)

// notFound names the missing record while keeping ErrNotFound and its HTTP
// status matchable.
func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}
