// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

// AuthorizeRequest is an authorization request made on behalf of an
// authenticated user.
type AuthorizeRequest struct {
	ClientID    string
	RedirectURI string
	// Scope is the space separated scope string from the request.
	Scope  string
	State  string
	UserID string
}

// AuthorizeResponse is the outcome of a successful authorization.
type AuthorizeResponse struct {
	Code        string
	State       string
	RedirectURI string
	Scopes      []string
	ExpiresAt   time.Time
	// ConsentRequired is false only when the user already granted this
	// partner the exact scope set and the grant has not expired. When it is
	// true the caller must obtain consent before delivering Code.
	ConsentRequired bool
}

// Authorize validates an authorization request and issues a one-time code
// bound to the client, user, scope and redirect URI.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (resp *AuthorizeResponse, err error) {
	defer func() {
		s.metrics.RecordAuthorization(ctx, err)
	}()

	if req.UserID == "" {
		return nil, trusterrors.NewInvalidRequestError("user is not authenticated", nil)
	}

	partner, err := s.activePartner(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !partner.HasRedirectURI(req.RedirectURI) {
		return nil, trusterrors.NewError(trusterrors.TypeInvalidRedirect,
			fmt.Sprintf("redirect_uri %q is not registered for client %s", req.RedirectURI, partner.ID), nil)
	}

	scopes, err := requestedScopes(req.Scope, partner)
	if err != nil {
		return nil, err
	}

	if err := s.checkTrust(ctx, partner, req.UserID); err != nil {
		return nil, err
	}

	code, hash, err := s.minter.Generate(ctx, secrets.KindAuthorizationCode)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	record := &storage.AuthorizationCode{
		CodeHash:    hash,
		ClientID:    partner.ID,
		UserID:      req.UserID,
		Scopes:      scopes,
		RedirectURI: req.RedirectURI,
		State:       req.State,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.AuthCodeLifespan),
	}
	if err := s.store.CreateAuthorizationCode(ctx, record); err != nil {
		return nil, err
	}

	consentRequired, err := s.consentRequired(ctx, req.UserID, partner.ID, scopes, now)
	if err != nil {
		return nil, err
	}

	logger.Debugw("authorization code issued",
		"client_id", partner.ID,
		"user_id", req.UserID,
		"scopes", scope.Join(scopes),
		"consent_required", consentRequired,
	)
	return &AuthorizeResponse{
		Code:            code,
		State:           req.State,
		RedirectURI:     req.RedirectURI,
		Scopes:          scopes,
		ExpiresAt:       record.ExpiresAt,
		ConsentRequired: consentRequired,
	}, nil
}

// requestedScopes parses raw and checks it against the partner's allowed
// set. An empty request means the default scope.
func requestedScopes(raw string, partner *storage.PartnerApplication) ([]string, error) {
	scopes, err := scope.Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{scope.Default}
	}
	if !scope.Allowed(scopes, partner.Scopes) {
		return nil, trusterrors.NewInvalidScopeError(
			fmt.Sprintf("scope %q is not allowed for client %s", scope.Join(scopes), partner.ID))
	}
	return scopes, nil
}

// checkTrust rejects users whose trust score is below the partner minimum.
// Users unknown to the directory have no score and are rejected the same way.
func (s *Server) checkTrust(ctx context.Context, partner *storage.PartnerApplication, userID string) error {
	profile, err := s.directory.TrustProfile(ctx, userID)
	if errors.Is(err, trusterrors.ErrNotFound) {
		return trusterrors.NewError(trusterrors.TypeInsufficientTrust,
			fmt.Sprintf("user %s has no trust profile", userID), err)
	}
	if err != nil {
		return err
	}
	if profile.Score < float64(partner.MinTrustRequired) {
		logger.Infow("authorization denied for insufficient trust",
			"client_id", partner.ID,
			"user_id", userID,
			"min_trust_required", partner.MinTrustRequired,
		)
		return trusterrors.NewError(trusterrors.TypeInsufficientTrust,
			fmt.Sprintf("client %s requires a trust score of at least %d", partner.ID, partner.MinTrustRequired), nil)
	}
	return nil
}

func (s *Server) consentRequired(ctx context.Context, userID, clientID string, scopes []string, now time.Time) (bool, error) {
	grant, err := s.store.GetConsent(ctx, userID, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !grant.Covers(scopes, now), nil
}

// GrantConsent records that userID agreed to share scopes with clientID.
// An existing grant for the pair is replaced.
func (s *Server) GrantConsent(ctx context.Context, userID, clientID string, scopes []string) (*storage.ConsentGrant, error) {
	if userID == "" {
		return nil, trusterrors.NewInvalidRequestError("user is not authenticated", nil)
	}
	partner, err := s.activePartner(ctx, clientID)
	if err != nil {
		return nil, err
	}
	normalized, err := requestedScopes(scope.Join(scopes), partner)
	if err != nil {
		return nil, err
	}
	return s.upsertConsent(ctx, userID, partner.ID, normalized)
}

func (s *Server) upsertConsent(ctx context.Context, userID, clientID string, scopes []string) (*storage.ConsentGrant, error) {
	now := s.now().UTC()
	grant := &storage.ConsentGrant{
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    slices.Clone(scopes),
		GrantedAt: now,
		ExpiresAt: now.Add(s.config.ConsentLifespan),
		AutoRenew: true,
	}
	if err := s.store.UpsertConsent(ctx, grant); err != nil {
		return nil, err
	}
	logger.Debugw("consent recorded",
		"client_id", clientID,
		"user_id", userID,
		"scopes", scope.Join(scopes),
	)
	return grant, nil
}

// RevokeConsent withdraws userID's consent for clientID. Issued tokens are
// not affected.
func (s *Server) RevokeConsent(ctx context.Context, userID, clientID string) error {
	err := s.store.DeleteConsent(ctx, userID, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return trusterrors.NewError(trusterrors.TypeNotFound,
			fmt.Sprintf("no consent from user %s for client %s", userID, clientID), err)
	}
	if err != nil {
		return err
	}

	logger.Infow("consent revoked", "client_id", clientID, "user_id", userID)
	s.publish(ctx, clientID, webhook.EventConsentRevoked, map[string]any{"user_id": userID})
	return nil
}
