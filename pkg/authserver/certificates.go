// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/stacklok/trustfed/pkg/certificate"
	"github.com/stacklok/trustfed/pkg/directory"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/storage"
)

// EndpointUserInfo names the certificate issuing endpoint in the usage
// ledger and metrics.
const EndpointUserInfo = "userinfo"

// CertificateRequest tailors a certificate issued to a bearer token holder.
type CertificateRequest struct {
	// Thresholds to prove; empty means the configured defaults.
	Thresholds          []int
	IncludeHistory      bool
	IncludeAchievements bool
}

// IssueCertificate issues a trust certificate for the user and scopes of
// accessToken. Every call is rate limited per partner and recorded in the
// usage ledger, including failed ones once the partner is known.
func (s *Server) IssueCertificate(
	ctx context.Context, accessToken string, req CertificateRequest,
) (*certificate.Certificate, error) {
	start := s.now()

	token, err := s.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	cert, profile, err := s.issueCertificate(ctx, token, req)

	rec := &storage.UsageRecord{
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Endpoint:  EndpointUserInfo,
		Latency:   s.now().Sub(start),
		Success:   err == nil,
		ErrorCode: trusterrors.TypeOf(err),
	}
	if err != nil && rec.ErrorCode == "" {
		rec.ErrorCode = "internal_error"
	}
	if profile != nil {
		rec.TrustScore = profile.Score
	}
	// A ledger failure is logged by the ledger and does not fail the call.
	_ = s.ledger.Record(ctx, rec)

	return cert, err
}

func (s *Server) issueCertificate(
	ctx context.Context, token *storage.Token, req CertificateRequest,
) (*certificate.Certificate, *directory.TrustProfile, error) {
	partner, err := s.activePartner(ctx, token.ClientID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.limiter.Allow(ctx, partner.ID, partner.RateLimitPerHour); err != nil {
		if errors.Is(err, trusterrors.ErrRateLimitExceeded) {
			s.metrics.RecordRateLimitRejection(ctx, EndpointUserInfo)
			logger.Warnw("rate limit exceeded", "client_id", partner.ID)
		}
		return nil, nil, err
	}

	profile, err := s.directory.TrustProfile(ctx, token.UserID)
	if errors.Is(err, trusterrors.ErrNotFound) {
		return nil, nil, trusterrors.NewInvalidGrantError(fmt.Sprintf("user %s no longer has a trust profile", token.UserID))
	}
	if err != nil {
		return nil, nil, err
	}

	thresholds := req.Thresholds
	if len(thresholds) == 0 {
		thresholds = slices.Clone(s.config.DefaultThresholds)
	}

	cert, err := s.certificates.Issue(ctx, certificate.Input{
		Profile:  profile,
		ClientID: partner.ID,
	}, certificate.IssueOptions{
		Scopes:              token.Scopes,
		Thresholds:          thresholds,
		IncludeHistory:      req.IncludeHistory,
		IncludeAchievements: req.IncludeAchievements,
	})
	return cert, profile, err
}

// VerifyCertificate verifies an encoded certificate and discloses the
// requested fields.
func (s *Server) VerifyCertificate(
	ctx context.Context, encoded string, opts certificate.VerifyOptions,
) (*certificate.Verification, error) {
	v, err := s.certificates.Verify(ctx, encoded, opts)
	s.metrics.RecordVerification(ctx, err)
	if err != nil {
		logger.Debugw("certificate verification failed", "error", err)
	}
	return v, err
}
