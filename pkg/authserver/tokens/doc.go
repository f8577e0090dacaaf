// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokens provides the secret and token primitives of the authorization
// server: opaque random credentials (authorization codes and refresh tokens),
// their one-way at-rest digests, and HMAC-signed JWT access tokens.
//
// Opaque credentials are handed to clients exactly once. Only HashToken of the
// value is ever persisted, and lookups are performed on the digest.
package tokens
