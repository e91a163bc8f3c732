// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package secrets hashes partner client secrets and mints the opaque
// authorization codes, access tokens and refresh tokens handed to partners.
//
// Plaintext values leave this package exactly once, in the return value of
// the generating call. Only bcrypt hashes (client secrets) and HMAC
// signatures (codes and tokens) are meant to be persisted.
package secrets
