// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/trustfed/pkg/api/errors"
	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/storage"
)

// UserIDHeader carries the authenticated user, set by the identity proxy
// in front of the authorization endpoints.
const UserIDHeader = "X-User-ID"

type contextKey int

const (
	partnerKey contextKey = iota
	adminKey
)

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// clientCredentials reads client credentials from HTTP Basic auth or, as
// RFC 6749 section 2.3.1 permits, from the form body.
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		// Basic credentials are form-urlencoded before base64 encoding.
		if decoded, err := url.QueryUnescape(id); err == nil {
			id = decoded
		}
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func isAdmin(r *http.Request, adminToken string) bool {
	if adminToken == "" {
		return false
	}
	token, ok := bearerToken(r)
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) == 1
}

// requireAdmin admits requests carrying the configured admin bearer token.
// Without a configured token the admin API is disabled.
func requireAdmin(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAdmin(r, adminToken) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="trustfed-admin"`)
				apierrors.WriteJSON(w, http.StatusUnauthorized, apierrors.Response{
					Error:            "unauthorized",
					ErrorDescription: "admin token required",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey, true)))
		})
	}
}

// requirePartner authenticates partner client credentials.
func requirePartner(srv *authserver.Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return apierrors.OAuthErrorHandler(func(w http.ResponseWriter, r *http.Request) error {
			clientID, clientSecret := clientCredentials(r)
			partner, err := srv.AuthenticateClient(r.Context(), clientID, clientSecret)
			if err != nil {
				return err
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), partnerKey, partner)))
			return nil
		})
	}
}

// requirePartnerOrAdmin admits the admin token or partner credentials.
func requirePartnerOrAdmin(srv *authserver.Server, adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		partnerAuth := requirePartner(srv)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isAdmin(r, adminToken) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey, true)))
				return
			}
			partnerAuth.ServeHTTP(w, r)
		})
	}
}

func partnerFromContext(ctx context.Context) (*storage.PartnerApplication, bool) {
	p, ok := ctx.Value(partnerKey).(*storage.PartnerApplication)
	return p, ok
}

func adminFromContext(ctx context.Context) bool {
	ok, _ := ctx.Value(adminKey).(bool)
	return ok
}

// userFromRequest returns the user asserted by the identity proxy.
func userFromRequest(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if userID == "" {
		return "", httperr.WithCode(errors.New("user is not authenticated"), http.StatusUnauthorized)
	}
	return userID, nil
}
