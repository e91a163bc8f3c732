// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package certificate issues and verifies trust certificates: compact JWS
// tokens whose payload is the canonical JSON of a user's trust claims,
// signed with the server's ECDSA key.
package certificate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/ory/fosite"

	"github.com/stacklok/trustfed/pkg/certificate/keys"
	"github.com/stacklok/trustfed/pkg/certificate/scoring"
	"github.com/stacklok/trustfed/pkg/directory"
	trusterrors "github.com/stacklok/trustfed/pkg/errors"
	"github.com/stacklok/trustfed/pkg/logger"
	"github.com/stacklok/trustfed/pkg/scope"
	"github.com/stacklok/trustfed/pkg/zkp"
)

// DefaultValidity is how long certificates are valid unless configured.
const DefaultValidity = 24 * time.Hour

// Engine issues and verifies certificates.
type Engine struct {
	keys      keys.KeyProvider
	issuer    string
	validity  time.Duration
	anonymize bool
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidity sets the default certificate lifetime.
func WithValidity(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.validity = d
		}
	}
}

// WithSubjectAnonymization controls whether subjects are pairwise hashed.
// It is enabled by default.
func WithSubjectAnonymization(enabled bool) Option {
	return func(e *Engine) {
		e.anonymize = enabled
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine that signs with provider's signing key.
func NewEngine(provider keys.KeyProvider, issuer string, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	e := &Engine{
		keys:      provider,
		issuer:    issuer,
		validity:  DefaultValidity,
		anonymize: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Issuer returns the iss claim the engine stamps.
func (e *Engine) Issuer() string {
	return e.issuer
}

// Input identifies whose certificate is issued and for which partner.
type Input struct {
	Profile  *directory.TrustProfile
	ClientID string
}

// IssueOptions tailors the claims of a single certificate.
type IssueOptions struct {
	// Scopes select the visible claims. Empty means trust:basic only.
	Scopes []string

	// Thresholds to prove when trust:threshold is granted.
	Thresholds []int

	IncludeHistory      bool
	IncludeAchievements bool

	// Validity overrides the engine default when positive.
	Validity time.Duration
}

// Certificate is an issued certificate.
type Certificate struct {
	Encoded string
	KeyID   string
	Claims  *Claims
}

// Issue builds, canonicalizes and signs the claims for input.
func (e *Engine) Issue(ctx context.Context, input Input, opts IssueOptions) (*Certificate, error) {
	if input.Profile == nil || input.Profile.UserID == "" {
		return nil, trusterrors.NewInvalidRequestError("trust profile is required", nil)
	}
	if err := input.Profile.Validate(); err != nil {
		return nil, trusterrors.NewInvalidRequestError("trust profile cannot be scored", err)
	}
	claims, err := e.buildClaims(input, opts)
	if err != nil {
		return nil, err
	}

	payload, err := Encode(claims)
	if err != nil {
		return nil, err
	}
	encoded, kid, err := e.sign(ctx, payload)
	if err != nil {
		return nil, err
	}

	logger.Debugw("issued trust certificate",
		"client_id", input.ClientID,
		"certificate_id", claims.ID,
		"key_id", kid,
	)
	return &Certificate{Encoded: encoded, KeyID: kid, Claims: claims}, nil
}

func (e *Engine) buildClaims(input Input, opts IssueOptions) (*Claims, error) {
	granted := fosite.Arguments(opts.Scopes)
	if len(granted) == 0 {
		granted = fosite.Arguments{scope.Basic}
	}

	now := e.now().UTC()
	validity := e.validity
	if opts.Validity > 0 {
		validity = opts.Validity
	}

	profile := input.Profile
	analysis := scoring.Analyze(profile, now)

	claims := &Claims{
		Issuer:    e.issuer,
		Subject:   e.subject(input.ClientID, profile.UserID),
		Audience:  input.ClientID,
		ID:        uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(validity).Unix(),
	}

	if granted.Has(scope.Basic) {
		claims.Tier = scoring.TierOf(profile.Score)
	}
	if granted.Has(scope.Score) {
		claims.Score = ptr(scoring.Round(profile.Score))
		claims.Percentile = ptr(scoring.Round(profile.Percentile))
		claims.Confidence = ptr(analysis.Confidence)
	}
	if granted.Has(scope.Behavior) {
		claims.Behavior = &Behavior{
			Consistency:        analysis.Consistency,
			InteractionQuality: analysis.InteractionQuality,
			Collaboration:      analysis.Collaboration,
			Innovation:         analysis.Innovation,
		}
		claims.Risk = &Risk{Score: analysis.RiskScore, Level: analysis.RiskLevel}
	}
	if granted.Has(scope.History) {
		claims.Trend = analysis.Trend
		claims.Volatility = &Volatility{Level: analysis.Volatility, StdDev: analysis.StdDev}
		if opts.IncludeHistory {
			claims.History = historyClaims(profile.History)
		}
	}
	if granted.Has(scope.Achievements) && opts.IncludeAchievements {
		claims.Achievements = achievementClaims(profile.Achievements)
	}
	if granted.Has(scope.Threshold) && len(opts.Thresholds) > 0 {
		value := int(math.Floor(math.Max(0, math.Min(100, profile.Score))))
		bundle, err := zkp.Generate(value, opts.Thresholds)
		if err != nil {
			return nil, err
		}
		claims.Proof = bundle
	}
	return claims, nil
}

// subject is sha256(issuer|client|user) in hex when anonymization is on.
func (e *Engine) subject(clientID, userID string) string {
	if !e.anonymize {
		return userID
	}
	sum := sha256.Sum256([]byte(e.issuer + "|" + clientID + "|" + userID))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) sign(ctx context.Context, payload []byte) (string, string, error) {
	key, err := e.keys.SigningKey(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to load signing key: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: jose.SignatureAlgorithm(key.Algorithm),
			Key:       jose.JSONWebKey{Key: key.Key, KeyID: key.KeyID, Algorithm: key.Algorithm},
		},
		(&jose.SignerOptions{}).WithType("trust-certificate+jws"),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to create signer: %w", err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign certificate: %w", err)
	}
	encoded, err := jws.CompactSerialize()
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize certificate: %w", err)
	}
	return encoded, key.KeyID, nil
}

func historyClaims(samples []directory.ScoreSample) []HistoryItem {
	if len(samples) == 0 {
		return nil
	}
	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b directory.ScoreSample) int { return a.RecordedAt.Compare(b.RecordedAt) })

	out := make([]HistoryItem, len(sorted))
	for i, s := range sorted {
		out[i] = HistoryItem{Score: scoring.Round(s.Score), RecordedAt: s.RecordedAt.Unix()}
	}
	return out
}

func achievementClaims(achievements []directory.Achievement) []Achievement {
	if len(achievements) == 0 {
		return nil
	}
	out := make([]Achievement, len(achievements))
	for i, a := range achievements {
		out[i] = Achievement{ID: a.ID, Name: a.Name, AwardedAt: a.AwardedAt.Unix()}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
