// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api serves the HTTP interface of the trust federation core.
//
// Routes are grouped by audience, each in its own router under v1:
//   - /oauth: the authorization, consent, token, revocation and userinfo
//     endpoints used by partners and their users
//   - /partners: registration (public) and lifecycle (admin bearer token)
//   - /webhooks: subscription management (partner client credentials)
//   - /analytics: usage summaries (partner client credentials or admin)
//   - /certificates/verify and /.well-known/jwks.json: public verification
//   - /health, /version and /metrics: operations
//
// Handlers return errors instead of writing them; the decorators in
// pkg/api/errors map the error taxonomy onto HTTP statuses and RFC 6749
// error bodies.
package api
