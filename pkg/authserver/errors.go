// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ory/fosite"
)

// ErrorKind is one of the RFC 6749 error codes the server can return.
type ErrorKind int

// Error kinds. The zero value is ErrServerError so an uninitialized kind never
// leaks as a client error.
const (
	ErrServerError ErrorKind = iota
	ErrInvalidRequest
	ErrInvalidClient
	ErrInvalidGrant
	ErrUnauthorizedClient
	ErrUnsupportedGrantType
	ErrInvalidScope
	ErrUnsupportedResponseType
	ErrAccessDenied
)

// templates carries the RFC code and default description for every kind.
var templates = map[ErrorKind]*fosite.RFC6749Error{
	ErrServerError:             fosite.ErrServerError,
	ErrInvalidRequest:          fosite.ErrInvalidRequest,
	ErrInvalidClient:           fosite.ErrInvalidClient,
	ErrInvalidGrant:            fosite.ErrInvalidGrant,
	ErrUnauthorizedClient:      fosite.ErrUnauthorizedClient,
	ErrUnsupportedGrantType:    fosite.ErrUnsupportedGrantType,
	ErrInvalidScope:            fosite.ErrInvalidScope,
	ErrUnsupportedResponseType: fosite.ErrUnsupportedResponseType,
	ErrAccessDenied:            fosite.ErrAccessDenied,
}

func (k ErrorKind) template() *fosite.RFC6749Error {
	if t, ok := templates[k]; ok {
		return t
	}
	return fosite.ErrServerError
}

// String returns the RFC 6749 error code, e.g. "invalid_grant".
func (k ErrorKind) String() string {
	return k.template().ErrorField
}

// HTTPStatus returns the status used when the error is rendered as a JSON body.
func (k ErrorKind) HTTPStatus() int {
	if k == ErrServerError {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// DefaultDescription returns the standard human-readable description.
func (k ErrorKind) DefaultDescription() string {
	return k.template().DescriptionField
}

// Error is returned by every service operation. Description is safe to show to
// the client; the wrapped cause is for logs only.
type Error struct {
	Kind        ErrorKind
	Description string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the RFC 6749 error code.
func (e *Error) Code() string { return e.Kind.String() }

// newError builds an Error with description, falling back to the kind's
// default description when empty.
func newError(kind ErrorKind, description string) *Error {
	if description == "" {
		description = kind.DefaultDescription()
	}
	return &Error{Kind: kind, Description: description}
}

// NewError returns a protocol error of kind for callers outside the service,
// such as the HTTP layer rejecting malformed requests.
func NewError(kind ErrorKind, description string) *Error {
	return newError(kind, description)
}

// serverError hides cause from the client behind a generic server_error.
func serverError(cause error) *Error {
	return &Error{Kind: ErrServerError, Description: ErrServerError.DefaultDescription(), cause: cause}
}

// AsError converts err into an *Error. Errors that are not already protocol
// errors become server_error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return serverError(err)
}

// IsKind reports whether err is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
