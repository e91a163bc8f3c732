// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stacklok/toolhive-core/httperr"

	apierrors "github.com/stacklok/trustfed/pkg/api/errors"
	"github.com/stacklok/trustfed/pkg/authserver"
	"github.com/stacklok/trustfed/pkg/certificate"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
)

// OAuthRoutes defines the OAuth 2.0 endpoints.
type OAuthRoutes struct {
	server *authserver.Server
}

// OAuthRouter creates a router for /oauth.
func OAuthRouter(server *authserver.Server) http.Handler {
	routes := OAuthRoutes{server: server}

	r := chi.NewRouter()
	r.Get("/authorize", apierrors.ErrorHandler(routes.authorize))
	r.Post("/authorize", apierrors.ErrorHandler(routes.authorize))
	r.Post("/consent", apierrors.ErrorHandler(routes.consent))
	r.Delete("/consent/{clientID}", apierrors.ErrorHandler(routes.revokeConsent))
	r.Post("/token", apierrors.OAuthErrorHandler(routes.token))
	r.Post("/revoke", apierrors.OAuthErrorHandler(routes.revoke))
	r.Get("/userinfo", apierrors.ErrorHandler(routes.userinfo))
	return r
}

// consentRequiredResponse tells the user agent to collect consent before
// the authorization can complete.
type consentRequiredResponse struct {
	ConsentRequired bool     `json:"consent_required"`
	ConsentURL      string   `json:"consent_url"`
	ClientID        string   `json:"client_id"`
	Scopes          []string `json:"scopes"`
}

// authorize handles the authorization endpoint.
//
//	@Summary		Authorization endpoint
//	@Tags			oauth
//	@Param			response_type	query	string	true	"Must be code"
//	@Param			client_id		query	string	true	"Client ID"
//	@Param			redirect_uri	query	string	true	"Registered redirect URI"
//	@Param			scope			query	string	false	"Space separated scopes"
//	@Param			state			query	string	false	"Opaque client state"
//	@Success		200	{object}	consentRequiredResponse
//	@Success		302
//	@Router			/oauth/authorize [get]
func (o *OAuthRoutes) authorize(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return trusterrors.NewInvalidRequestError("malformed request", err)
	}
	if rt := r.Form.Get("response_type"); rt != "code" {
		return trusterrors.NewInvalidRequestError("response_type must be code", nil)
	}
	userID, err := userFromRequest(r)
	if err != nil {
		return err
	}
	return o.completeAuthorization(w, r, userID)
}

// consent records the user's consent and continues the authorization.
//
//	@Summary		Grant consent
//	@Tags			oauth
//	@Accept			x-www-form-urlencoded
//	@Success		302
//	@Router			/oauth/consent [post]
func (o *OAuthRoutes) consent(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return trusterrors.NewInvalidRequestError("malformed request", err)
	}
	userID, err := userFromRequest(r)
	if err != nil {
		return err
	}
	if _, err := o.server.GrantConsent(r.Context(), userID, r.Form.Get("client_id"), strings.Fields(r.Form.Get("scope"))); err != nil {
		return err
	}
	return o.completeAuthorization(w, r, userID)
}

func (o *OAuthRoutes) completeAuthorization(w http.ResponseWriter, r *http.Request, userID string) error {
	req := authserver.AuthorizeRequest{
		ClientID:    r.Form.Get("client_id"),
		RedirectURI: r.Form.Get("redirect_uri"),
		Scope:       r.Form.Get("scope"),
		State:       r.Form.Get("state"),
		UserID:      userID,
	}

	resp, err := o.server.Authorize(r.Context(), req)
	if err != nil {
		if redirectable(err) {
			return redirectError(w, r, req.RedirectURI, req.State, err)
		}
		return err
	}

	if resp.ConsentRequired {
		return writeJSON(w, http.StatusOK, consentRequiredResponse{
			ConsentRequired: true,
			ConsentURL:      consentURL(req, resp.Scopes),
			ClientID:        req.ClientID,
			Scopes:          resp.Scopes,
		})
	}

	target, err := url.Parse(resp.RedirectURI)
	if err != nil {
		return trusterrors.NewInvalidRequestError("redirect_uri is invalid", err)
	}
	q := target.Query()
	q.Set("code", resp.Code)
	if resp.State != "" {
		q.Set("state", resp.State)
	}
	target.RawQuery = q.Encode()

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target.String(), http.StatusFound)
	return nil
}

// redirectable reports whether err is returned to the client through the
// redirect URI. Errors about the client or the redirect URI itself are
// shown to the user instead.
func redirectable(err error) bool {
	switch trusterrors.TypeOf(err) {
	case trusterrors.TypeInvalidScope, trusterrors.TypeInsufficientTrust:
		return true
	}
	return false
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, err error) error {
	target, perr := url.Parse(redirectURI)
	if perr != nil {
		return err
	}
	oauthErr := trusterrors.OAuthError(err)
	q := target.Query()
	q.Set("error", oauthErr.ErrorField)
	q.Set("error_description", oauthErr.GetDescription())
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
	return nil
}

func consentURL(req authserver.AuthorizeRequest, scopes []string) string {
	q := url.Values{}
	q.Set("client_id", req.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	if req.State != "" {
		q.Set("state", req.State)
	}
	return "/oauth/consent?" + q.Encode()
}

func (o *OAuthRoutes) revokeConsent(w http.ResponseWriter, r *http.Request) error {
	userID, err := userFromRequest(r)
	if err != nil {
		return err
	}
	if err := o.server.RevokeConsent(r.Context(), userID, chi.URLParam(r, "clientID")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// token handles the token endpoint.
//
//	@Summary		Token endpoint
//	@Tags			oauth
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Success		200	{object}	authserver.TokenResponse
//	@Failure		400	{object}	apierrors.Response
//	@Failure		401	{object}	apierrors.Response
//	@Router			/oauth/token [post]
func (o *OAuthRoutes) token(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return trusterrors.NewInvalidRequestError("malformed request", err)
	}
	clientID, clientSecret := clientCredentials(r)

	var (
		resp *authserver.TokenResponse
		err  error
	)
	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case authserver.GrantTypeAuthorizationCode:
		resp, err = o.server.ExchangeToken(r.Context(),
			r.PostForm.Get("code"), clientID, clientSecret, r.PostForm.Get("redirect_uri"))
	case authserver.GrantTypeRefreshToken:
		resp, err = o.server.RefreshToken(r.Context(), r.PostForm.Get("refresh_token"), clientID, clientSecret)
	default:
		return unsupportedGrantType(grantType)
	}
	if err != nil {
		return err
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	return writeJSON(w, http.StatusOK, resp)
}

func unsupportedGrantType(grantType string) error {
	return trusterrors.NewInvalidRequestError(fmt.Sprintf("unsupported grant_type %q", grantType), nil)
}

// revoke handles RFC 7009 token revocation.
//
//	@Summary		Revoke a token
//	@Tags			oauth
//	@Accept			x-www-form-urlencoded
//	@Success		200
//	@Router			/oauth/revoke [post]
func (o *OAuthRoutes) revoke(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return trusterrors.NewInvalidRequestError("malformed request", err)
	}
	token := r.PostForm.Get("token")
	if token == "" {
		return trusterrors.NewInvalidRequestError("token is required", nil)
	}
	clientID, clientSecret := clientCredentials(r)
	if err := o.server.RevokeToken(r.Context(), token, clientID, clientSecret); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

// userinfoResponse carries an issued certificate and its visible claims.
type userinfoResponse struct {
	Certificate string                     `json:"certificate"`
	KeyID       string                     `json:"key_id"`
	ExpiresAt   time.Time                  `json:"expires_at"`
	Claims      map[string]json.RawMessage `json:"claims"`
}

// userinfo issues a trust certificate to the bearer token holder.
//
//	@Summary		Issue a trust certificate
//	@Tags			oauth
//	@Produce		json
//	@Param			fields					query	string	false	"Comma separated claims to return"
//	@Param			include_history			query	bool	false	"Include score history"
//	@Param			include_achievements	query	bool	false	"Include achievements"
//	@Param			thresholds				query	string	false	"Comma separated thresholds to prove"
//	@Success		200	{object}	userinfoResponse
//	@Failure		401	{object}	apierrors.Response
//	@Failure		429	{object}	apierrors.Response
//	@Router			/oauth/userinfo [get]
func (o *OAuthRoutes) userinfo(w http.ResponseWriter, r *http.Request) error {
	token, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="trustfed"`)
		return unauthorized("bearer token required")
	}

	q := r.URL.Query()
	req := authserver.CertificateRequest{}
	var err error
	if req.Thresholds, err = parseInts(q.Get("thresholds")); err != nil {
		return err
	}
	if req.IncludeHistory, err = parseBool(q.Get("include_history")); err != nil {
		return err
	}
	if req.IncludeAchievements, err = parseBool(q.Get("include_achievements")); err != nil {
		return err
	}

	cert, err := o.server.IssueCertificate(r.Context(), token, req)
	if trusterrors.TypeOf(err) == trusterrors.TypeInvalidGrant {
		w.Header().Set("WWW-Authenticate", `Bearer realm="trustfed", error="invalid_token"`)
		return unauthorized("access token is invalid, expired or revoked")
	}
	if err != nil {
		return err
	}

	claims, err := certificate.Disclose(cert.Claims, parseList(q.Get("fields")))
	if err != nil {
		return err
	}

	w.Header().Set("Cache-Control", "no-store")
	return writeJSON(w, http.StatusOK, userinfoResponse{
		Certificate: cert.Encoded,
		KeyID:       cert.KeyID,
		ExpiresAt:   time.Unix(cert.Claims.ExpiresAt, 0).UTC(),
		Claims:      claims,
	})
}

func unauthorized(msg string) error {
	return httperr.WithCode(errors.New(msg), http.StatusUnauthorized)
}
