// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides shared RFC-defined types, constants, and validation utilities
// for OAuth 2.0. It is the common vocabulary of the authorization server, its HTTP
// handlers and its storage backends: redirect URI patterns per RFC 6749 and RFC 8252,
// space-delimited scope handling, and RFC 8414 server metadata.
package oauth
