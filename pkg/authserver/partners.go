// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/google/uuid"

	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/secrets"
	"github.com/stacklok/trustfed/pkg/storage"
	"github.com/stacklok/trustfed/pkg/webhook"
)

// PartnerRegistration is the input of RegisterPartner.
type PartnerRegistration struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	HomepageURL      string   `json:"homepage_url,omitempty"`
	LogoURL          string   `json:"logo_url,omitempty"`
	RedirectURIs     []string `json:"redirect_uris"`
	Scopes           []string `json:"scopes,omitempty"`
	MinTrustRequired int      `json:"min_trust_required"`
	RateLimitPerHour int      `json:"rate_limit_per_hour,omitempty"`
}

// Validate checks the registration and returns the normalized scope set.
func (r *PartnerRegistration) Validate() ([]string, error) {
	if r.Name == "" {
		return nil, trusterrors.NewInvalidRequestError("name is required", nil)
	}
	if len(r.RedirectURIs) == 0 {
		return nil, trusterrors.NewInvalidRequestError("at least one redirect_uri is required", nil)
	}
	for _, uri := range r.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, err
		}
	}
	if r.MinTrustRequired < 0 || r.MinTrustRequired > 100 {
		return nil, trusterrors.NewInvalidRequestError("min_trust_required must be between 0 and 100", nil)
	}
	if r.RateLimitPerHour < 0 {
		return nil, trusterrors.NewInvalidRequestError("rate_limit_per_hour must be non-negative", nil)
	}

	scopes, err := scope.Normalize(r.Scopes)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = []string{scope.Default}
	}
	return scopes, nil
}

func validateRedirectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return trusterrors.NewInvalidRequestError(fmt.Sprintf("redirect_uri %q is invalid", uri), err)
	}
	if !u.IsAbs() || u.Host == "" {
		return trusterrors.NewInvalidRequestError(fmt.Sprintf("redirect_uri %q must be absolute", uri), nil)
	}
	if u.Fragment != "" {
		return trusterrors.NewInvalidRequestError(fmt.Sprintf("redirect_uri %q must not contain a fragment", uri), nil)
	}
	return nil
}

// RegisteredPartner is returned once at registration and secret rotation.
// ClientSecret is never retrievable again.
type RegisteredPartner struct {
	Partner      *storage.PartnerApplication
	ClientSecret string
}

// RegisterPartner stores a new partner in the pending state.
func (s *Server) RegisterPartner(ctx context.Context, reg PartnerRegistration) (*RegisteredPartner, error) {
	scopes, err := reg.Validate()
	if err != nil {
		return nil, err
	}

	secret, hash, err := secrets.GenerateClientSecret()
	if err != nil {
		return nil, err
	}

	rateLimit := reg.RateLimitPerHour
	if rateLimit == 0 {
		rateLimit = storage.DefaultRateLimitPerHour
	}

	now := s.now().UTC()
	partner := &storage.PartnerApplication{
		ID:               uuid.NewString(),
		SecretHash:       hash,
		Name:             reg.Name,
		Description:      reg.Description,
		HomepageURL:      reg.HomepageURL,
		LogoURL:          reg.LogoURL,
		RedirectURIs:     slices.Clone(reg.RedirectURIs),
		Scopes:           scopes,
		MinTrustRequired: reg.MinTrustRequired,
		RateLimitPerHour: rateLimit,
		Status:           storage.PartnerPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreatePartner(ctx, partner); err != nil {
		return nil, err
	}

	logger.Infow("partner registered",
		"client_id", partner.ID,
		"name", partner.Name,
		"scopes", scope.Join(scopes),
	)
	return &RegisteredPartner{Partner: partner, ClientSecret: secret}, nil
}

// GetPartner loads a partner by client ID.
func (s *Server) GetPartner(ctx context.Context, clientID string) (*storage.PartnerApplication, error) {
	partner, err := s.store.GetPartner(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, trusterrors.NewError(trusterrors.TypeNotFound, fmt.Sprintf("partner %s not found", clientID), err)
	}
	return partner, err
}

// ListPartners returns partners in status, or all when status is empty.
func (s *Server) ListPartners(ctx context.Context, status storage.PartnerStatus) ([]*storage.PartnerApplication, error) {
	if status != "" && !status.Valid() {
		return nil, trusterrors.NewInvalidRequestError(fmt.Sprintf("unknown partner status %q", status), nil)
	}
	return s.store.ListPartners(ctx, status)
}

// ApprovePartner activates a pending or suspended partner.
func (s *Server) ApprovePartner(ctx context.Context, clientID string) (*storage.PartnerApplication, error) {
	return s.transition(ctx, clientID, storage.PartnerActive)
}

// SuspendPartner blocks an active partner. Its tokens stay valid in
// storage but are refused while it is suspended.
func (s *Server) SuspendPartner(ctx context.Context, clientID string) (*storage.PartnerApplication, error) {
	return s.transition(ctx, clientID, storage.PartnerSuspended)
}

// RevokePartner permanently blocks a partner and revokes all its tokens.
func (s *Server) RevokePartner(ctx context.Context, clientID string) (*storage.PartnerApplication, error) {
	partner, err := s.transition(ctx, clientID, storage.PartnerRevoked)
	if err != nil {
		return nil, err
	}

	n, err := s.store.RevokeClientTokens(ctx, clientID)
	if err != nil {
		return nil, err
	}
	logger.Infow("revoked partner tokens", "client_id", clientID, "tokens", n)
	if n > 0 {
		s.publish(ctx, clientID, webhook.EventCredentialRevoked, map[string]any{
			"reason": "partner_revoked",
			"tokens": n,
		})
	}
	return partner, nil
}

// allowedTransitions lists the states a partner may move to from each state.
var allowedTransitions = map[storage.PartnerStatus][]storage.PartnerStatus{
	storage.PartnerPending:   {storage.PartnerActive, storage.PartnerRevoked},
	storage.PartnerActive:    {storage.PartnerSuspended, storage.PartnerRevoked},
	storage.PartnerSuspended: {storage.PartnerActive, storage.PartnerRevoked},
}

func (s *Server) transition(ctx context.Context, clientID string, to storage.PartnerStatus) (*storage.PartnerApplication, error) {
	partner, err := s.GetPartner(ctx, clientID)
	if err != nil {
		return nil, err
	}
	from := partner.Status
	if !slices.Contains(allowedTransitions[from], to) {
		return nil, trusterrors.NewInvalidRequestError(
			fmt.Sprintf("partner %s cannot move from %s to %s", clientID, from, to), nil)
	}

	now := s.now().UTC()
	if err := s.store.UpdatePartnerStatus(ctx, clientID, to, now); err != nil {
		return nil, err
	}
	partner.Status = to
	partner.UpdatedAt = now

	logger.Infow("partner status changed",
		"client_id", clientID,
		"from", string(from),
		"to", string(to),
	)
	s.publish(ctx, clientID, webhook.EventPartnerStatusChanged, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	return partner, nil
}

// RotateClientSecret replaces a partner's secret and returns the new one.
// The previous secret stops working immediately.
func (s *Server) RotateClientSecret(ctx context.Context, clientID string) (*RegisteredPartner, error) {
	partner, err := s.GetPartner(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if partner.Status == storage.PartnerRevoked {
		return nil, trusterrors.NewInvalidRequestError(fmt.Sprintf("partner %s is revoked", clientID), nil)
	}

	secret, hash, err := secrets.GenerateClientSecret()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.store.UpdatePartnerSecret(ctx, clientID, hash, now); err != nil {
		return nil, err
	}
	partner.SecretHash = hash
	partner.UpdatedAt = now

	logger.Infow("partner secret rotated", "client_id", clientID)
	return &RegisteredPartner{Partner: partner, ClientSecret: secret}, nil
}
