// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the OAuth 2.0 authorization server of the
// trust federation core.
//
// The server supports:
//   - Partner registration and lifecycle (pending, active, suspended, revoked)
//   - The authorization code grant gated by the partner's minimum trust score
//   - Explicit user consent, remembered for 90 days per exact scope set
//   - Refresh token rotation where a presented refresh token works once
//   - Access token introspection and RFC 7009 style revocation
//   - Issuing signed trust certificates to bearer token holders
//
// Codes and tokens are opaque values minted by pkg/secrets; only their HMAC
// signatures are stored. Every state change that must happen at most once
// (consuming a code, rotating a refresh token) is a single conditional
// update in the storage backend.
//
// # Usage
//
//	srv, err := authserver.New(cfg, authserver.Dependencies{
//	    Storage:      store,
//	    Directory:    dir,
//	    Minter:       minter,
//	    Certificates: engine,
//	})
//	if err != nil {
//	    return err
//	}
//	resp, err := srv.Authorize(ctx, authserver.AuthorizeRequest{...})
package authserver
