// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

// Grant types accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// TokenResponse is the RFC 6749 token endpoint response. The plaintext
// tokens exist only in this value.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ExchangeToken redeems an authorization code for a token pair. A code can
// be redeemed once; concurrent redemptions of the same code yield exactly
// one success.
func (s *Server) ExchangeToken(
	ctx context.Context, code, clientID, clientSecret, redirectURI string,
) (resp *TokenResponse, err error) {
	defer func() {
		s.metrics.RecordTokenGrant(ctx, GrantTypeAuthorizationCode, err)
	}()

	partner, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	hash, err := s.minter.Hash(ctx, secrets.KindAuthorizationCode, code)
	if err != nil {
		return nil, trusterrors.NewInvalidGrantError("authorization code is malformed")
	}
	record, err := s.store.ConsumeAuthorizationCode(ctx, hash, partner.ID, redirectURI, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warnw("authorization code rejected", "client_id", partner.ID)
		return nil, trusterrors.NewInvalidGrantError("authorization code is invalid, expired or already used")
	}
	if err != nil {
		return nil, err
	}

	resp, token, err := s.issueTokens(ctx, partner.ID, record.UserID, record.Scopes)
	if err != nil {
		return nil, err
	}
	if _, err := s.upsertConsent(ctx, record.UserID, partner.ID, record.Scopes); err != nil {
		return nil, err
	}

	logger.Infow("token pair issued",
		"client_id", partner.ID,
		"user_id", record.UserID,
		"token_id", token.ID,
		"grant_type", GrantTypeAuthorizationCode,
	)
	s.publish(ctx, partner.ID, webhook.EventCredentialIssued, map[string]any{
		"user_id":  record.UserID,
		"token_id": token.ID,
		"scope":    resp.Scope,
	})
	return resp, nil
}

// RefreshToken rotates a refresh token. The presented token is revoked in
// the same update that validates it, so a stale or replayed refresh token
// always fails.
func (s *Server) RefreshToken(
	ctx context.Context, refreshToken, clientID, clientSecret string,
) (resp *TokenResponse, err error) {
	defer func() {
		s.metrics.RecordTokenGrant(ctx, GrantTypeRefreshToken, err)
	}()

	partner, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	hash, err := s.minter.Hash(ctx, secrets.KindRefreshToken, refreshToken)
	if err != nil {
		return nil, trusterrors.NewInvalidGrantError("refresh token is malformed")
	}
	previous, err := s.store.RotateRefreshToken(ctx, hash, partner.ID, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warnw("refresh token rejected", "client_id", partner.ID)
		return nil, trusterrors.NewInvalidGrantError("refresh token is invalid, expired or already used")
	}
	if err != nil {
		return nil, err
	}

	resp, token, err := s.issueTokens(ctx, partner.ID, previous.UserID, previous.Scopes)
	if err != nil {
		return nil, err
	}
	logger.Infow("token pair rotated",
		"client_id", partner.ID,
		"user_id", previous.UserID,
		"token_id", token.ID,
		"previous_token_id", previous.ID,
	)
	return resp, nil
}

func (s *Server) issueTokens(ctx context.Context, clientID, userID string, scopes []string) (*TokenResponse, *storage.Token, error) {
	access, accessHash, err := s.minter.Generate(ctx, secrets.KindAccessToken)
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshHash, err := s.minter.Generate(ctx, secrets.KindRefreshToken)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	token := &storage.Token{
		ID:               uuid.NewString(),
		AccessHash:       accessHash,
		RefreshHash:      refreshHash,
		ClientID:         clientID,
		UserID:           userID,
		Scopes:           scopes,
		AccessExpiresAt:  now.Add(s.config.AccessTokenLifespan),
		RefreshExpiresAt: now.Add(s.config.RefreshTokenLifespan),
		CreatedAt:        now,
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, nil, err
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.config.AccessTokenLifespan.Seconds()),
		RefreshToken: refresh,
		Scope:        scope.Join(scopes),
	}, token, nil
}

// VerifyAccessToken validates a bearer token and counts its use. Revoked
// and expired tokens fail with InvalidGrant; an access token is expired
// from its expiry instant on.
func (s *Server) VerifyAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	hash, err := s.minter.Hash(ctx, secrets.KindAccessToken, accessToken)
	if err != nil {
		return nil, trusterrors.NewInvalidGrantError("access token is malformed")
	}
	token, err := s.store.UseAccessToken(ctx, hash, s.now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, trusterrors.NewInvalidGrantError("access token is invalid, expired or revoked")
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RevokeToken revokes the token pair that token belongs to. Following
// RFC 7009, unknown or malformed tokens are not an error.
func (s *Server) RevokeToken(ctx context.Context, token, clientID, clientSecret string) error {
	partner, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}

	kind := secrets.KindAccessToken
	if strings.HasPrefix(token, string(secrets.KindRefreshToken)) {
		kind = secrets.KindRefreshToken
	}
	hash, err := s.minter.Hash(ctx, kind, token)
	if err != nil {
		logger.Debugw("ignoring revocation of malformed token", "client_id", partner.ID)
		return nil
	}

	err = s.store.RevokeToken(ctx, hash, partner.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	logger.Infow("token revoked", "client_id", partner.ID)
	s.publish(ctx, partner.ID, webhook.EventCredentialRevoked, map[string]any{
		"reason": "client_request",
		"tokens": 1,
	})
	return nil
}
